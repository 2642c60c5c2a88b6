package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/imyashkale/spun/internal/logger"
	"github.com/sirupsen/logrus"
)

// Deploy lifecycle events written to the event log
const (
	EventSubmitted = "submitted"
	EventLive      = "live"
	EventFailed    = "failed"
	EventRemoved   = "removed"
	EventExpired   = "expired"
)

// EventLog appends deploy events as JSON lines to a rotated file
type EventLog struct {
	path string
	log  *logrus.Logger
	mu   sync.Mutex
}

// NewEventLog opens the event log at path
func NewEventLog(path string) *EventLog {
	return &EventLog{
		path: path,
		log:  logger.NewFileLogger(path),
	}
}

// Record appends one event
func (e *EventLog) Record(event string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.WithFields(fields).Info(event)
}

// Tail returns up to n most recent events, oldest first. Rotated files are
// not read.
func (e *EventLog) Tail(n int) ([]map[string]interface{}, error) {
	if n <= 0 {
		return []map[string]interface{}{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return []map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}

	events := make([]map[string]interface{}, 0, len(ring))
	for _, line := range ring {
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
