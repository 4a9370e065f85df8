package telegram

import (
	"context"
	"errors"
	"net"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "quizcast/internal/transport"
)

// classify maps a telebot error onto the transport failure taxonomy.
//
// Flood waits and network trouble are temporary; every other API rejection
// (bad request, forbidden, chat not found) is permanent; retrying those
// would only replay the same rejection. Context cancellation passes
// through unwrapped so callers can distinguish shutdown from failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.Temporary(err, time.Duration(flood.RetryAfter)*time.Second)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return kit.Permanent(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return kit.Temporary(err, 0)
	}

	// telebot wraps transport-level failures (connection reset, EOF) in
	// plain errors; treat anything that isn't a parsed API response as a
	// connectivity problem worth retrying.
	return kit.Temporary(err, 0)
}
