package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns the per-app directories under the apps root
type Manager struct {
	root string
}

// New ensures the apps root exists
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("apps root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create apps root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the apps root directory
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory of an app without touching the filesystem
func (m *Manager) Path(name string) string {
	return filepath.Join(m.root, name)
}

// Prepare replaces any existing directory for name with an empty one
func (m *Manager) Prepare(name string) (string, error) {
	dir, err := m.inside(name)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("remove previous app dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create app dir: %w", err)
	}
	return dir, nil
}

// Remove deletes the app directory; a missing directory is not an error
func (m *Manager) Remove(name string) error {
	dir, err := m.inside(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// inside resolves name under the root and refuses anything that escapes it
func (m *Manager) inside(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("app name cannot be empty")
	}
	dir := filepath.Join(m.root, name)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("refusing app path outside apps root: %q", name)
	}
	return dir, nil
}
