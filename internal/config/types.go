package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Schedule ScheduleConfig `json:"schedule"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives log lines when logging.telegram is enabled,
	// and owner notifications about finished jobs.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DispatchConfig controls the send pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "2s").
//
// Defaults (when fields are omitted/zero):
//   - throttle: "2s"
//   - retry_max: 3
//   - queue_size: 64
type DispatchConfig struct {
	Throttle  string `json:"throttle,omitempty"`
	RetryMax  int    `json:"retry_max,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./quizcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ScheduleConfig controls deferred sends.
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

var errNoOwners = errors.New("telegram.owner_user_ids must not be empty")

// Validate checks the fields that would make the process unusable at
// startup. Reload validation reuses it so a broken edit never commits.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return errNoOwners
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.throttle", c.Dispatch.Throttle); err != nil {
		return err
	}
	if c.Dispatch.RetryMax < 0 {
		return errors.New("dispatch.retry_max must be >= 0")
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// IsOwner reports whether uid is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(uid int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == uid {
			return true
		}
	}
	return false
}

// ThrottleInterval returns the parsed dispatch throttle, defaulting to 2s.
func (c *Config) ThrottleInterval() time.Duration {
	d, err := ParseDurationOrDefault("dispatch.throttle", c.Dispatch.Throttle, 2*time.Second)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
