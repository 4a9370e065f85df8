package storage

import (
	"context"
	"errors"
	"strings"

	"quizcast/pkg/logx"
)

// Store is the persistence API used by the ledger and the router.
type Store interface {
	// Chat registry.
	UpsertChat(ctx context.Context, c Chat) error
	DeleteChat(ctx context.Context, chatID int64) error
	ListChats(ctx context.Context, viewerID int64) ([]Chat, error)

	// Job audit trail.
	InsertJob(ctx context.Context, j JobRecord) error
	SetJobStatus(ctx context.Context, jobID int64, status string) error
	AppendResult(ctx context.Context, r ResultRecord) error
	RecentJobs(ctx context.Context, createdBy int64, limit int) ([]JobRecord, error)
	Results(ctx context.Context, jobID int64) ([]ResultRecord, error)

	// LastJobID returns the highest persisted job id (0 when none), so
	// the ledger's monotonic counter survives restarts.
	LastJobID(ctx context.Context) (int64, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
