package queue

import "errors"

var (
	// ErrQueueClosed is returned when trying to submit to a closed queue
	ErrQueueClosed = errors.New("queue is closed")
	// ErrQueueFull is returned when every running and pending slot is taken
	ErrQueueFull = errors.New("build queue is full, try again later")
)
