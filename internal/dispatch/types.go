package dispatch

import (
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/ledger"
)

// Config controls the engine. Throttle is the minimum spacing between any
// two send attempts issued by the process; RetryMax is the number of
// extra attempts after the first (total attempts = 1 + RetryMax).
type Config struct {
	Throttle  time.Duration
	RetryMax  int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = 2 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Request is one confirmed send: an ordered action list fanned out to an
// ordered destination list.
type Request struct {
	CreatedBy    int64
	Actions      []bulk.Action
	Destinations []int64
}

// Progress is published on the bus after every item, delivered or failed.
type Progress struct {
	JobID       int64
	Destination int64
	ActionIndex int
	Outcome     ledger.Outcome
	Attempts    int
	Err         string
}

// Terminal is published once per job when it completes or aborts.
type Terminal struct {
	JobID     int64
	CreatedBy int64
	Status    ledger.Status
	Delivered int
	Failed    int
}
