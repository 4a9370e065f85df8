package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "quizcast/internal/transport"
)

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "dial tcp: i/o timeout" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        error
		temporary bool
	}{
		{name: "flood wait", in: tele.FloodError{Error: &tele.Error{Code: 429, Description: "Too Many Requests"}, RetryAfter: 7}, temporary: true},
		{name: "api rejection", in: &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, temporary: false},
		{name: "forbidden", in: &tele.Error{Code: 403, Description: "Forbidden: bot was kicked"}, temporary: false},
		{name: "net timeout", in: fakeNetErr{timeout: true}, temporary: true},
		{name: "wrapped net error", in: fmt.Errorf("getUpdates: %w", fakeNetErr{}), temporary: true},
		{name: "unparsed transport error", in: errors.New("unexpected EOF"), temporary: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.in)
			if got == nil {
				t.Fatal("classify returned nil")
			}
			if kit.IsTemporary(got) != tt.temporary {
				t.Fatalf("IsTemporary = %v, want %v (err: %v)", kit.IsTemporary(got), tt.temporary, got)
			}
		})
	}
}

func TestClassifyFloodCarriesRetryAfter(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{Error: &tele.Error{Code: 429}, RetryAfter: 13})
	if got := kit.RetryAfterHint(err); got != 13*time.Second {
		t.Fatalf("RetryAfterHint = %v, want 13s", got)
	}
}

func TestClassifyContextErrorsPassThrough(t *testing.T) {
	t.Parallel()
	if got := classify(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("got %v", got)
	}
	if kit.IsTemporary(classify(context.Canceled)) {
		t.Fatal("context cancellation must not be retryable")
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()
	if classify(nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}
