package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quizcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertChat(ctx context.Context, c Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, name, owner_id, is_global, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET name=excluded.name, owner_id=excluded.owner_id, is_global=excluded.is_global`,
		c.ChatID, c.Name, c.OwnerID, boolInt(c.Global), c.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) ListChats(ctx context.Context, viewerID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, name, owner_id, is_global, created_at
		 FROM chats WHERE owner_id = ? OR is_global = 1
		 ORDER BY name`, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var (
			c      Chat
			global int
			at     string
		)
		if err := rows.Scan(&c.ChatID, &c.Name, &c.OwnerID, &global, &at); err != nil {
			return nil, err
		}
		c.Global = global != 0
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) InsertJob(ctx context.Context, j JobRecord) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, created_by, status, actions, destinations, created_at)
		 VALUES(?,?,?,?,?,?)`,
		j.ID, j.CreatedBy, j.Status, j.Actions, j.Destinations, j.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SetJobStatus(ctx context.Context, jobID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = CASE WHEN ? IN ('completed','aborted') THEN ? ELSE finished_at END
		 WHERE id = ?`,
		status, status, time.Now().Format(time.RFC3339Nano), jobID,
	)
	return err
}

func (s *sqliteStore) AppendResult(ctx context.Context, r ResultRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_results(job_id, destination, action_index, outcome, attempts, err, at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.JobID, r.Destination, r.ActionIndex, r.Outcome, r.Attempts, nullStr(r.Err), r.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RecentJobs(ctx context.Context, createdBy int64, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_by, status, actions, destinations, created_at, COALESCE(finished_at, '')
		 FROM jobs WHERE created_by = ? ORDER BY id DESC LIMIT ?`, createdBy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			j        JobRecord
			created  string
			finished string
		)
		if err := rows.Scan(&j.ID, &j.CreatedBy, &j.Status, &j.Actions, &j.Destinations, &created, &finished); err != nil {
			return nil, err
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished != "" {
			j.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Results(ctx context.Context, jobID int64) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, destination, action_index, outcome, attempts, COALESCE(err, ''), at
		 FROM job_results WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var (
			r  ResultRecord
			at string
		)
		if err := rows.Scan(&r.JobID, &r.Destination, &r.ActionIndex, &r.Outcome, &r.Attempts, &r.Err, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LastJobID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM jobs`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
