package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/queue"
	"github.com/imyashkale/spun/internal/repository"
)

// MaxNameLength is the longest app name, one DNS label
const MaxNameLength = 63

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateName checks that name can be used as a subdomain label
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must be lowercase letters, digits and inner hyphens, at most %d characters", ErrInvalidName, name, MaxNameLength)
	}
	return nil
}

// JobSubmitter admits build jobs
type JobSubmitter interface {
	Submit(job *queue.BuildJob) (<-chan queue.Result, error)
}

// DeployExecutor runs one admitted deploy
type DeployExecutor interface {
	Execute(ctx context.Context, req *DeployRequest) (*models.DeployResult, error)
}

// SubmitRequest is an incoming deploy
type SubmitRequest struct {
	Archive []byte
	Meta    models.DeployMeta
	Caller  models.Caller
}

// DeployService validates deploy submissions and hands them to the queue
type DeployService struct {
	registry        *repository.LockedRegistry
	queue           JobSubmitter
	executor        DeployExecutor
	statuses        *StatusStore
	events          *EventLog
	metrics         *Metrics
	maxArchiveBytes int64
	newID           func() string
}

// NewDeployService creates a new deploy service
func NewDeployService(
	registry *repository.LockedRegistry,
	q JobSubmitter,
	executor DeployExecutor,
	statuses *StatusStore,
	events *EventLog,
	metrics *Metrics,
	maxArchiveBytes int64,
) *DeployService {
	return &DeployService{
		registry:        registry,
		queue:           q,
		executor:        executor,
		statuses:        statuses,
		events:          events,
		metrics:         metrics,
		maxArchiveBytes: maxArchiveBytes,
		newID:           uuid.NewString,
	}
}

// Submit validates a deploy and queues it. It returns the deploy id as soon
// as the deploy is admitted; the phases run asynchronously.
func (s *DeployService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	meta := req.Meta

	if err := ValidateName(meta.Name); err != nil {
		s.metrics.SubmitRejected("invalid_name")
		return "", err
	}
	if len(req.Archive) == 0 {
		s.metrics.SubmitRejected("empty_archive")
		return "", ErrArchiveEmpty
	}
	if int64(len(req.Archive)) > s.maxArchiveBytes {
		s.metrics.SubmitRejected("archive_too_large")
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrArchiveTooLarge, len(req.Archive), s.maxArchiveBytes)
	}
	pm, err := NormalizePackageManager(meta.PackageManager)
	if err != nil {
		s.metrics.SubmitRejected("invalid_package_manager")
		return "", err
	}
	meta.PackageManager = pm

	reg, err := s.registry.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read registry: %w", err)
	}
	if existing := reg.Apps[meta.Name]; existing != nil && !req.Caller.Admin && req.Caller.Token != existing.Secret {
		s.metrics.SubmitRejected("name_conflict")
		return "", &ConflictError{Name: meta.Name, Suggestion: SuggestName(reg, meta.Name, existing)}
	}

	deployID := s.newID()
	deployReq := &DeployRequest{DeployID: deployID, Archive: req.Archive, Meta: meta}

	// queued must be visible before the job can overwrite it
	s.statuses.Set(models.DeployStatus{DeployID: deployID, Name: meta.Name, Status: models.PhaseQueued})

	_, err = s.queue.Submit(&queue.BuildJob{
		DeploymentID: deployID,
		AppName:      meta.Name,
		Run: func(ctx context.Context) error {
			_, err := s.executor.Execute(ctx, deployReq)
			return err
		},
	})
	if err != nil {
		s.statuses.Delete(deployID)
		if errors.Is(err, queue.ErrQueueFull) {
			s.metrics.SubmitRejected("queue_full")
		}
		return "", err
	}

	s.events.Record(EventSubmitted, map[string]interface{}{
		"deploy_id": deployID,
		"app":       meta.Name,
		"bytes":     len(req.Archive),
		"commit":    meta.GitCommit,
		"author":    meta.GitAuthor,
		"admin":     req.Caller.Admin,
	})
	logger.WithFields(map[string]interface{}{
		"deploy_id":       deployID,
		"app":             meta.Name,
		"package_manager": pm,
		"bytes":           len(req.Archive),
	}).Info("Deploy queued")

	return deployID, nil
}

// Status returns the current status of a deploy
func (s *DeployService) Status(deployID string) (models.DeployStatus, error) {
	st, ok := s.statuses.Get(deployID)
	if !ok {
		return models.DeployStatus{}, ErrDeployNotFound
	}
	return st, nil
}

// SuggestName proposes a free alternative to a taken name. The suggestion
// depends only on the name and the existing app, so retrying the same
// conflicting deploy yields the same suggestion.
func SuggestName(reg *models.Registry, name string, existing *models.AppRecord) string {
	base := name
	if len(base) > MaxNameLength-5 {
		base = base[:MaxNameLength-5]
	}
	for len(base) > 0 && base[len(base)-1] == '-' {
		base = base[:len(base)-1]
	}

	seed := name + "|" + existing.DeployedAt.UTC().Format(time.RFC3339Nano)
	for attempt := 0; ; attempt++ {
		sum := sha256.Sum256([]byte(seed + "|" + strconv.Itoa(attempt)))
		candidate := base + "-" + hex.EncodeToString(sum[:2])
		if _, taken := reg.Apps[candidate]; !taken {
			return candidate
		}
	}
}
