package jobs

import "errors"

var (
	ErrNotFound           = errors.New("job not found")
	ErrConflict           = errors.New("job already exists")
	ErrTerminal           = errors.New("job is in a terminal state")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProgressRegression = errors.New("progress cannot go backward")
	ErrLeaseLost          = errors.New("job lease lost")
	ErrQueueUnavailable   = errors.New("queue unavailable")
	ErrInvalidRequest     = errors.New("invalid job request")
	ErrUnknownType        = errors.New("unknown job type")
)
