package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/imyashkale/spun/internal/models"
	"gopkg.in/yaml.v2"
)

// ManifestFile is the optional per-app config at the archive root
const ManifestFile = "spun.yaml"

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Manifest is the parsed spun.yaml
type Manifest struct {
	Start string                       `yaml:"start"`
	Env   []models.EnvironmentVariable `yaml:"env"`
}

// LoadManifest reads spun.yaml from dir. A missing file yields nil.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}

	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks environment variable names. PORT is reserved.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Env))
	for _, env := range m.Env {
		if !envNamePattern.MatchString(env.Name) {
			return fmt.Errorf("%w: bad env name %q", ErrInvalidManifest, env.Name)
		}
		if env.Name == "PORT" {
			return fmt.Errorf("%w: PORT is assigned by the platform", ErrInvalidManifest)
		}
		if _, dup := seen[env.Name]; dup {
			return fmt.Errorf("%w: duplicate env %q", ErrInvalidManifest, env.Name)
		}
		seen[env.Name] = struct{}{}
	}
	return nil
}

// Environ returns the env as KEY=VALUE pairs
func (m *Manifest) Environ() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Env))
	for _, env := range m.Env {
		out = append(out, env.Name+"="+env.Value)
	}
	return out
}

// StartCommand returns the declared start command, if any
func (m *Manifest) StartCommand() string {
	if m == nil {
		return ""
	}
	return m.Start
}
