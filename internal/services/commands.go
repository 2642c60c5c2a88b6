package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imyashkale/spun/internal/shell"
)

// Supported package managers
const (
	PackageManagerNPM  = "npm"
	PackageManagerPNPM = "pnpm"
	PackageManagerYarn = "yarn"
	PackageManagerBun  = "bun"
)

// NormalizePackageManager defaults to npm and rejects unknown managers
func NormalizePackageManager(pm string) (string, error) {
	switch pm {
	case "":
		return PackageManagerNPM, nil
	case PackageManagerNPM, PackageManagerPNPM, PackageManagerYarn, PackageManagerBun:
		return pm, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPackageManager, pm)
	}
}

// InstallCommand installs all dependencies, development ones included since
// the build step needs them
func InstallCommand(pm, dir string, timeout time.Duration) shell.Command {
	return shell.Command{
		Name:    pm,
		Args:    []string{"install"},
		Dir:     dir,
		Env:     []string{"NODE_ENV=development"},
		Timeout: timeout,
	}
}

// BuildCommand runs the project's build script in production mode
func BuildCommand(pm, dir string, env []string, timeout time.Duration) shell.Command {
	return shell.Command{
		Name:    pm,
		Args:    []string{"run", "build"},
		Dir:     dir,
		Env:     append([]string{"NODE_ENV=production"}, env...),
		Timeout: timeout,
	}
}

// startSignature maps a build output file to the command that serves it
type startSignature struct {
	path    string
	command string
}

// startSignatures are checked in order; the first existing file wins
var startSignatures = []startSignature{
	// Nitro based: Nuxt, SolidStart, TanStack Start, Analog
	{path: ".output/server/index.mjs", command: "node .output/server/index.mjs"},
	// Next.js standalone
	{path: ".next/standalone/server.js", command: "node .next/standalone/server.js"},
	// Remix v2
	{path: "build/server/index.js", command: "npx remix-serve build/server/index.js"},
	// Astro node adapter
	{path: "dist/server/entry.mjs", command: "node dist/server/entry.mjs"},
	// SvelteKit node adapter
	{path: "build/index.js", command: "node build/index.js"},
}

// ResolveStartCommand picks how to launch the app in dir: a known build
// output first, then the declared command, then the package start script
func ResolveStartCommand(dir, declared, pm string) string {
	for _, sig := range startSignatures {
		if _, err := os.Stat(filepath.Join(dir, sig.path)); err == nil {
			return sig.command
		}
	}

	if declared != "" {
		return declared
	}

	// with or without a start script the generic invocation is the same;
	// a missing script surfaces as a crash during health checks
	return pm + " run start"
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// HasScript reports whether package.json in dir declares the named script
func HasScript(dir, script string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	return pkg.Scripts[script] != ""
}
