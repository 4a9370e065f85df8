package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and Open returns
// (nil, nil).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Chat is a registered destination. Owner-registered chats are global
// (visible to every teacher); teacher-registered chats are private to the
// teacher who added them.
type Chat struct {
	ChatID    int64
	Name      string
	OwnerID   int64
	Global    bool
	CreatedAt time.Time
}

// JobRecord is the persisted audit row for a dispatch job.
type JobRecord struct {
	ID           int64
	CreatedBy    int64
	Status       string
	Actions      int
	Destinations int
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// ResultRecord is one persisted per-item outcome.
type ResultRecord struct {
	JobID       int64
	Destination int64
	ActionIndex int
	Outcome     string
	Attempts    int
	Err         string
	At          time.Time
}
