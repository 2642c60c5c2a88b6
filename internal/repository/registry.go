package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/imyashkale/spun/internal/database"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
)

// Re-export errors from database package so callers only import repository
var (
	ErrNotFound        = database.ErrNotFound
	ErrVersionConflict = database.ErrVersionConflict
)

// RegistryRepository reads and writes the registry document as a whole.
//
// Read never fails because the document is absent or corrupt: both yield an
// empty registry. Write replaces the entire document and is rejected with
// ErrVersionConflict when the document changed since it was read. There is no
// field-level API; concurrent read-modify-write cycles that bypass
// LockedRegistry.Update will conflict.
type RegistryRepository interface {
	Read(ctx context.Context) (*models.Registry, error)
	Write(ctx context.Context, reg *models.Registry) error
}

// fileRegistryRepository keeps the registry as one JSON file on local disk
type fileRegistryRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileRegistryRepository creates a registry stored at path
func NewFileRegistryRepository(path string) RegistryRepository {
	return &fileRegistryRepository{path: path}
}

// Read loads the registry file
func (r *fileRegistryRepository) Read(ctx context.Context) (*models.Registry, error) {
	return r.load(), nil
}

func (r *fileRegistryRepository) load() *models.Registry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WithFields(map[string]interface{}{
				"path":  r.path,
				"error": err.Error(),
			}).Warn("Failed to read registry, treating as empty")
		}
		return models.NewRegistry()
	}

	reg := models.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		logger.WithFields(map[string]interface{}{
			"path":  r.path,
			"error": err.Error(),
		}).Warn("Registry file is corrupt, treating as empty")
		return models.NewRegistry()
	}
	if reg.Apps == nil {
		reg.Apps = make(map[string]*models.AppRecord)
	}
	return reg
}

// Write atomically replaces the registry file
func (r *fileRegistryRepository) Write(ctx context.Context, reg *models.Registry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.load(); current.Version != reg.Version {
		logger.WithFields(map[string]interface{}{
			"path":         r.path,
			"read_version": reg.Version,
			"disk_version": current.Version,
		}).Warn("Registry write rejected: stale version")
		return ErrVersionConflict
	}

	out := *reg
	out.Version = reg.Version + 1
	if out.Apps == nil {
		out.Apps = make(map[string]*models.AppRecord)
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("failed to create registry temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}

	reg.Version = out.Version
	return nil
}

// dynamoRegistryRepository implements RegistryRepository using DynamoDB
type dynamoRegistryRepository struct {
	db *database.RegistryOperations
}

// NewDynamoRegistryRepository creates a new DynamoDB-backed registry
func NewDynamoRegistryRepository(db *database.RegistryOperations) RegistryRepository {
	return &dynamoRegistryRepository{db: db}
}

// Read loads the registry item, treating a missing item as an empty registry
func (r *dynamoRegistryRepository) Read(ctx context.Context) (*models.Registry, error) {
	reg, err := r.db.GetRegistry(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return models.NewRegistry(), nil
	}
	return reg, err
}

// Write replaces the registry item
func (r *dynamoRegistryRepository) Write(ctx context.Context, reg *models.Registry) error {
	return r.db.PutRegistry(ctx, reg)
}

// LockedRegistry funnels every read-modify-write through a single in-process
// owner, so writers inside this process never race each other
type LockedRegistry struct {
	repo RegistryRepository
	mu   sync.Mutex
}

// NewLockedRegistry wraps repo
func NewLockedRegistry(repo RegistryRepository) *LockedRegistry {
	return &LockedRegistry{repo: repo}
}

// Read returns a snapshot of the registry
func (l *LockedRegistry) Read(ctx context.Context) (*models.Registry, error) {
	return l.repo.Read(ctx)
}

// Update reads the registry, applies fn and writes the result back when fn
// reports a change. Nothing is written if fn returns an error.
func (l *LockedRegistry) Update(ctx context.Context, fn func(reg *models.Registry) (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.repo.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	changed, err := fn(reg)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := l.repo.Write(ctx, reg); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}
