package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	"quizcast/internal/transport"
	"quizcast/pkg/logx"
)

// Engine sends confirmed jobs sequentially: one worker, one action in
// flight at a time, because the transport rate limit is shared across all
// traffic from one credential. The Gate (shared across engines on the
// same credential) enforces the spacing floor.
type Engine struct {
	cfg    Config
	sender transport.Sender
	gate   *Gate
	jobs   *ledger.Ledger
	bus    eventbus.Bus
	log    logx.Logger

	mu        sync.Mutex
	queue     chan int64
	cancelled map[int64]bool
	running   bool
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, sender transport.Sender, gate *Gate, jobs *ledger.Ledger, bus eventbus.Bus, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if gate == nil {
		gate = NewGate(cfg.Throttle)
	}
	return &Engine{
		cfg:       cfg,
		sender:    sender,
		gate:      gate,
		jobs:      jobs,
		bus:       bus,
		log:       log,
		queue:     make(chan int64, cfg.QueueSize),
		cancelled: map[int64]bool{},
	}
}

// Apply updates the retry budget and throttle at runtime.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg.Throttle = cfg.Throttle
	e.cfg.RetryMax = cfg.RetryMax
	e.mu.Unlock()
	e.gate.SetInterval(cfg.Throttle)
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case id := <-e.queue:
				e.runJob(runCtx, id)
			}
		}
	}()
	e.log.Info("dispatch engine started",
		logx.Duration("throttle", e.cfg.Throttle),
		logx.Int("retry_max", e.cfg.RetryMax))
}

func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.runCancel
	e.runCancel = nil
	e.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Submit validates the request, creates a PENDING job in the ledger and
// queues it. Validation failures never create a job.
func (e *Engine) Submit(req Request) (int64, error) {
	if len(req.Actions) == 0 {
		return 0, ErrNoActions
	}
	if len(req.Destinations) == 0 {
		return 0, ErrNoDestinations
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return 0, ErrStopped
	}
	// Submits are serialized by the mutex and the worker only drains, so
	// the capacity check cannot race another producer.
	if len(e.queue) == cap(e.queue) {
		return 0, ErrQueueFull
	}
	id := e.jobs.Create(req.CreatedBy, req.Actions, req.Destinations)
	e.queue <- id
	return id, nil
}

// Cancel asks a pending or running job to stop between items. Delivered
// items are not rolled back.
func (e *Engine) Cancel(id int64) {
	e.mu.Lock()
	e.cancelled[id] = true
	e.mu.Unlock()
}

func (e *Engine) isCancelled(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[id]
}

func (e *Engine) clearCancel(id int64) {
	e.mu.Lock()
	delete(e.cancelled, id)
	e.mu.Unlock()
}

func (e *Engine) retryMax() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.RetryMax
}

func (e *Engine) runJob(ctx context.Context, id int64) {
	defer e.clearCancel(id)

	snap, ok := e.jobs.Snapshot(id)
	if !ok {
		e.log.Error("queued job missing from ledger", logx.Int64("job", id))
		return
	}
	if err := e.jobs.Begin(id); err != nil {
		e.log.Error("job begin failed", logx.Int64("job", id), logx.Err(err))
		return
	}

	start := time.Now()
	log := e.log.With(logx.Int64("job", id))
	log.Info("job started",
		logx.Int("actions", len(snap.Actions)),
		logx.Int("destinations", len(snap.Destinations)))

	status := ledger.StatusCompleted

send:
	for _, dest := range snap.Destinations {
		for idx, action := range snap.Actions {
			if e.isCancelled(id) || ctx.Err() != nil {
				status = ledger.StatusAborted
				log.Warn("job cancelled between items", logx.Int64("chat_id", dest), logx.Int("action", idx))
				break send
			}

			attempts, err := e.sendWithRetry(ctx, dest, action)
			res := ledger.ItemResult{
				Destination: dest,
				ActionIndex: idx,
				Outcome:     ledger.OutcomeDelivered,
				Attempts:    attempts,
			}
			if err != nil {
				res.Outcome = ledger.OutcomeFailed
				res.Err = err.Error()
			}
			if recErr := e.jobs.Record(id, res); recErr != nil {
				log.Error("result not recorded", logx.Err(recErr))
			}
			e.publishProgress(id, res)

			if err != nil {
				// Abort on first unrecoverable failure: no further
				// actions or destinations for this job.
				status = ledger.StatusAborted
				log.Warn("job aborted",
					logx.Int64("chat_id", dest),
					logx.Int("action", idx),
					logx.Int("attempts", attempts),
					logx.Err(err))
				break send
			}
		}
	}

	if err := e.jobs.Finish(id, status); err != nil {
		log.Error("job finish failed", logx.Err(err))
	}
	final, _ := e.jobs.Snapshot(id)
	e.publishTerminal(final)

	fields := []logx.Field{
		logx.Int("delivered", final.Delivered()),
		logx.Int("failed", final.Failed()),
		logx.Duration("dur", time.Since(start)),
	}
	if status == ledger.StatusAborted {
		log.Warn("job finished aborted", fields...)
	} else {
		log.Info("job finished", fields...)
	}
}

// sendWithRetry performs up to 1+RetryMax attempts for one item. Every
// attempt waits on the shared gate first, so the throttle floor holds
// across retries, items, and concurrent jobs. Permanent failures return
// immediately without consuming the retry budget.
func (e *Engine) sendWithRetry(ctx context.Context, dest int64, action bulk.Action) (attempts int, err error) {
	budget := 1 + e.retryMax()
	var last error
	for attempts = 1; attempts <= budget; attempts++ {
		if werr := e.gate.Wait(ctx); werr != nil {
			return attempts, werr
		}
		last = e.sendOne(ctx, dest, action)
		if last == nil {
			return attempts, nil
		}
		if !transport.IsTemporary(last) {
			return attempts, last
		}
		if attempts == budget {
			break
		}
		// Honor the transport's flood-wait hint on top of the gate.
		if hint := transport.RetryAfterHint(last); hint > 0 {
			tmr := time.NewTimer(hint)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return attempts, ctx.Err()
			case <-tmr.C:
			}
		}
	}
	return budget, last
}

func (e *Engine) sendOne(ctx context.Context, dest int64, action bulk.Action) error {
	to := transport.ChatTarget{ChatID: dest}
	switch a := action.(type) {
	case bulk.MessageAction:
		_, err := e.sender.SendText(ctx, to, a.Text, nil)
		return err
	case bulk.PollAction:
		_, err := e.sender.SendPoll(ctx, to, a)
		return err
	default:
		return transport.Permanent(fmt.Errorf("unknown action kind %q", action.Kind()))
	}
}

func (e *Engine) publishProgress(id int64, r ledger.ItemResult) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobProgress,
		Data: Progress{
			JobID:       id,
			Destination: r.Destination,
			ActionIndex: r.ActionIndex,
			Outcome:     r.Outcome,
			Attempts:    r.Attempts,
			Err:         r.Err,
		},
	})
}

func (e *Engine) publishTerminal(j ledger.Job) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobFinished,
		Data: Terminal{
			JobID:     j.ID,
			CreatedBy: j.CreatedBy,
			Status:    j.Status,
			Delivered: j.Delivered(),
			Failed:    j.Failed(),
		},
	})
}
