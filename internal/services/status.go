package services

import (
	"time"

	"github.com/imyashkale/spun/internal/models"
	gocache "github.com/patrickmn/go-cache"
)

// StatusStore holds deploy statuses for polling and evicts them after ttl
type StatusStore struct {
	cache *gocache.Cache
}

// NewStatusStore creates a store whose entries live for ttl
func NewStatusStore(ttl time.Duration) *StatusStore {
	cleanup := ttl / 4
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &StatusStore{cache: gocache.New(ttl, cleanup)}
}

// Set replaces the status of st.DeployID
func (s *StatusStore) Set(st models.DeployStatus) {
	st.UpdatedAt = time.Now()
	s.cache.SetDefault(st.DeployID, st)
}

// Get returns the status of a deploy
func (s *StatusStore) Get(deployID string) (models.DeployStatus, bool) {
	v, ok := s.cache.Get(deployID)
	if !ok {
		return models.DeployStatus{}, false
	}
	return v.(models.DeployStatus), true
}

// Update applies fn to the current status of deployID, if any
func (s *StatusStore) Update(deployID string, fn func(st *models.DeployStatus)) bool {
	st, ok := s.Get(deployID)
	if !ok {
		return false
	}
	fn(&st)
	s.Set(st)
	return true
}

// Delete forgets a deploy
func (s *StatusStore) Delete(deployID string) {
	s.cache.Delete(deployID)
}
