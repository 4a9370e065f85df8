package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizcast/internal/bulk"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatTarget identifies a destination chat.
type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Sender is the send capability the dispatch engine depends on. Adapters
// translate actions into transport payloads and classify failures via
// SendError so the engine knows what is worth retrying.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPoll(ctx context.Context, to ChatTarget, poll bulk.PollAction) (MessageRef, error)
}

// Adapter is a full transport: the send capability plus the inbound
// update stream lifecycle.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// SendError classifies a transport send failure.
//
// Temporary failures (rate limiting, network trouble) are worth retrying
// and may carry a RetryAfter hint. Everything else is permanent: the
// payload or the destination is bad and a retry would spend budget on the
// same outcome.
type SendError struct {
	Temporary  bool
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Temporary {
		kind = "temporary"
	}
	return fmt.Sprintf("send (%s): %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a send failure that may succeed on
// retry. Unclassified errors are treated as permanent so the engine never
// retries blind.
func IsTemporary(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Temporary
}

// RetryAfterHint extracts the transport's requested wait, if any.
func RetryAfterHint(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Temporary wraps err as a retryable send failure.
func Temporary(err error, retryAfter time.Duration) *SendError {
	return &SendError{Temporary: true, RetryAfter: retryAfter, Err: err}
}

// Permanent wraps err as a non-retryable send failure.
func Permanent(err error) *SendError {
	return &SendError{Err: err}
}
