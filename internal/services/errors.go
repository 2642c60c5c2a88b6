package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidName           = errors.New("invalid app name")
	ErrInvalidPackageManager = errors.New("unsupported package manager")
	ErrArchiveTooLarge       = errors.New("archive too large")
	ErrArchiveEmpty          = errors.New("archive is empty")
	ErrNameConflict          = errors.New("app name already taken")
	ErrAppNotFound           = errors.New("app not found")
	ErrDeployNotFound        = errors.New("deploy not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrHealthCheckFailed     = errors.New("app did not respond to health checks")
	ErrProcessCrashed        = errors.New("app process crashed during startup")
	ErrInvalidManifest       = errors.New("invalid spun.yaml")
)

// ConflictError is returned when a deploy targets a name owned by someone
// else. It matches ErrNameConflict.
type ConflictError struct {
	Name       string
	Suggestion string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("app %q already exists, try %q", e.Name, e.Suggestion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrNameConflict
}
