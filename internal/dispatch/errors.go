package dispatch

import "errors"

var (
	ErrNoActions      = errors.New("dispatch: empty action list")
	ErrNoDestinations = errors.New("dispatch: no destinations")
	ErrQueueFull      = errors.New("dispatch: job queue full")
	ErrStopped        = errors.New("dispatch: engine stopped")
)
