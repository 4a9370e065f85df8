package router

import (
	"context"
	"fmt"

	"quizcast/internal/dispatch"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	kit "quizcast/internal/transport"
	logx "quizcast/pkg/logx"
)

// forwardEvents turns engine events into messages for the job creator.
// Per-item progress stays in the logs; only failures and terminal states
// reach the chat.
func (r *Router) forwardEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch data := ev.Data.(type) {
			case dispatch.Progress:
				if data.Outcome == ledger.OutcomeFailed {
					r.log.Warn("item failed",
						logx.Int64("job_id", data.JobID),
						logx.Int64("dest", data.Destination),
						logx.Int("action", data.ActionIndex),
						logx.Int("attempts", data.Attempts),
						logx.String("err", data.Err))
				} else {
					r.log.Debug("item delivered",
						logx.Int64("job_id", data.JobID),
						logx.Int64("dest", data.Destination),
						logx.Int("action", data.ActionIndex))
				}
			case dispatch.Terminal:
				r.notifyTerminal(ctx, data)
			}
		}
	}
}

func (r *Router) notifyTerminal(ctx context.Context, t dispatch.Terminal) {
	var text string
	switch t.Status {
	case ledger.StatusCompleted:
		text = fmt.Sprintf("🎉 Done! Job #%d completed. Delivered: %d items. Failures: %d.",
			t.JobID, t.Delivered, t.Failed)
	case ledger.StatusAborted:
		text = fmt.Sprintf("❗ Sending stopped — Job #%d aborted. Delivered: %d, failed: %d. See /jobs.",
			t.JobID, t.Delivered, t.Failed)
	default:
		return
	}
	// Creator id doubles as their private chat id.
	to := kit.ChatTarget{ChatID: t.CreatedBy}
	if _, err := r.adapter.SendText(ctx, to, text, nil); err != nil {
		r.log.Warn("terminal notification failed",
			logx.Int64("job_id", t.JobID),
			logx.Int64("creator", t.CreatedBy),
			logx.Err(err))
	}
}
