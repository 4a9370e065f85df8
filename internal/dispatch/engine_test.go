package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	"quizcast/internal/transport"
	"quizcast/pkg/logx"
)

type sentItem struct {
	Dest int64
	Text string
	At   time.Time
}

// fakeSender records every attempt and fails according to the script.
type fakeSender struct {
	mu    sync.Mutex
	sent  []sentItem
	fail  func(dest int64, text string, attempt int) error
	hook  func()
	tries map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{tries: map[string]int{}}
}

func (f *fakeSender) record(dest int64, text string) error {
	f.mu.Lock()
	f.tries[text]++
	attempt := f.tries[text]
	f.sent = append(f.sent, sentItem{Dest: dest, Text: text, At: time.Now()})
	fail := f.fail
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != nil {
		return fail(dest, text, attempt)
	}
	return nil
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, f.record(to.ChatID, text)
}

func (f *fakeSender) SendPoll(ctx context.Context, to transport.ChatTarget, poll bulk.PollAction) (transport.MessageRef, error) {
	return transport.MessageRef{}, f.record(to.ChatID, poll.Question)
}

func (f *fakeSender) attempts(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries[text]
}

func (f *fakeSender) items() []sentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentItem(nil), f.sent...)
}

func messages(texts ...string) []bulk.Action {
	out := make([]bulk.Action, len(texts))
	for i, s := range texts {
		out[i] = bulk.MessageAction{Text: s}
	}
	return out
}

type testRig struct {
	eng    *Engine
	jobs   *ledger.Ledger
	bus    eventbus.Bus
	events <-chan eventbus.Event
}

func newRig(t *testing.T, cfg Config, sender transport.Sender) *testRig {
	t.Helper()
	jobs := ledger.New(nil, logx.Nop())
	bus := eventbus.New()
	events, unsub := bus.Subscribe(128)
	t.Cleanup(unsub)

	eng := New(cfg, sender, nil, jobs, bus, logx.Nop())
	eng.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		eng.Stop(ctx)
	})
	return &testRig{eng: eng, jobs: jobs, bus: bus, events: events}
}

func (r *testRig) waitTerminal(t *testing.T, id int64) Terminal {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-r.events:
			if e.Type != eventbus.TypeJobFinished {
				continue
			}
			term := e.Data.(Terminal)
			if term.JobID == id {
				return term
			}
		case <-deadline:
			t.Fatalf("job %d did not finish in time", id)
		}
	}
}

func TestAllSucceedOrderAndCompletion(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	rig := newRig(t, Config{Throttle: time.Millisecond, RetryMax: 3}, sender)

	id, err := rig.eng.Submit(Request{
		CreatedBy:    7,
		Actions:      messages("one", "two"),
		Destinations: []int64{-1, -2},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusCompleted || term.Delivered != 4 || term.Failed != 0 {
		t.Fatalf("terminal = %+v", term)
	}

	want := []sentItem{
		{Dest: -1, Text: "one"}, {Dest: -1, Text: "two"},
		{Dest: -2, Text: "one"}, {Dest: -2, Text: "two"},
	}
	got := sender.items()
	if len(got) != len(want) {
		t.Fatalf("sent %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Dest != want[i].Dest || got[i].Text != want[i].Text {
			t.Fatalf("item %d = (%d, %q), want (%d, %q)", i, got[i].Dest, got[i].Text, want[i].Dest, want[i].Text)
		}
	}

	job, _ := rig.jobs.Snapshot(id)
	if job.Status != ledger.StatusCompleted || len(job.Results) != 4 {
		t.Fatalf("job = %+v", job)
	}
	for i, r := range job.Results {
		if r.Outcome != ledger.OutcomeDelivered || r.Attempts != 1 {
			t.Fatalf("result %d = %+v", i, r)
		}
	}
}

func TestTransientFailureExhaustsBudgetThenAborts(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail = func(_ int64, text string, _ int) error {
		if text == "two" {
			return transport.Temporary(errors.New("flaky"), 0)
		}
		return nil
	}
	rig := newRig(t, Config{Throttle: time.Millisecond, RetryMax: 3}, sender)

	id, err := rig.eng.Submit(Request{
		Actions:      messages("one", "two", "three"),
		Destinations: []int64{-1},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusAborted {
		t.Fatalf("status = %s, want aborted", term.Status)
	}
	if got := sender.attempts("two"); got != 4 {
		t.Fatalf("action 2 attempted %d times, want 4 (1 + RetryMax)", got)
	}
	if got := sender.attempts("three"); got != 0 {
		t.Fatalf("action 3 attempted %d times, want 0", got)
	}

	job, _ := rig.jobs.Snapshot(id)
	if len(job.Results) != 2 {
		t.Fatalf("results = %+v", job.Results)
	}
	if r := job.Results[1]; r.Outcome != ledger.OutcomeFailed || r.Attempts != 4 {
		t.Fatalf("failed result = %+v", r)
	}
}

func TestTransientFailureRecoversWithinBudget(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail = func(_ int64, text string, attempt int) error {
		if text == "two" && attempt < 3 {
			return transport.Temporary(errors.New("flaky"), 0)
		}
		return nil
	}
	rig := newRig(t, Config{Throttle: time.Millisecond, RetryMax: 3}, sender)

	id, _ := rig.eng.Submit(Request{Actions: messages("one", "two"), Destinations: []int64{-1}})
	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", term.Status)
	}
	job, _ := rig.jobs.Snapshot(id)
	if r := job.Results[1]; r.Outcome != ledger.OutcomeDelivered || r.Attempts != 3 {
		t.Fatalf("recovered result = %+v", r)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail = func(_ int64, text string, _ int) error {
		if text == "bad" {
			return transport.Permanent(errors.New("chat not found"))
		}
		return nil
	}
	rig := newRig(t, Config{Throttle: time.Millisecond, RetryMax: 5}, sender)

	id, _ := rig.eng.Submit(Request{Actions: messages("bad", "after"), Destinations: []int64{-1}})
	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusAborted {
		t.Fatalf("status = %s, want aborted", term.Status)
	}
	if got := sender.attempts("bad"); got != 1 {
		t.Fatalf("permanent failure attempted %d times, want 1", got)
	}
	if got := sender.attempts("after"); got != 0 {
		t.Fatalf("later action attempted %d times, want 0", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	rig := newRig(t, Config{Throttle: time.Millisecond}, newFakeSender())

	if _, err := rig.eng.Submit(Request{Destinations: []int64{-1}}); !errors.Is(err, ErrNoActions) {
		t.Fatalf("err = %v, want ErrNoActions", err)
	}
	if _, err := rig.eng.Submit(Request{Actions: messages("x")}); !errors.Is(err, ErrNoDestinations) {
		t.Fatalf("err = %v, want ErrNoDestinations", err)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	jobs := ledger.New(nil, logx.Nop())
	eng := New(Config{Throttle: time.Millisecond}, sender, nil, jobs, eventbus.New(), logx.Nop())
	eng.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	eng.Stop(ctx)

	if _, err := eng.Submit(Request{Actions: messages("x"), Destinations: []int64{-1}}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestThrottleSpacingAcrossAttempts(t *testing.T) {
	t.Parallel()
	const throttle = 50 * time.Millisecond
	sender := newFakeSender()
	sender.fail = func(_ int64, text string, attempt int) error {
		if text == "two" && attempt == 1 {
			return transport.Temporary(errors.New("flaky"), 0)
		}
		return nil
	}
	rig := newRig(t, Config{Throttle: throttle, RetryMax: 2}, sender)

	id, _ := rig.eng.Submit(Request{Actions: messages("one", "two"), Destinations: []int64{-1}})
	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s", term.Status)
	}

	items := sender.items()
	if len(items) != 3 { // one, two (fail), two (retry)
		t.Fatalf("got %d attempts, want 3", len(items))
	}
	for i := 1; i < len(items); i++ {
		if gap := items[i].At.Sub(items[i-1].At); gap < throttle-5*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, throttle)
		}
	}
}

func TestCancelBetweenItems(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	rig := newRig(t, Config{Throttle: time.Millisecond}, sender)

	idCh := make(chan int64, 1)
	sender.hook = func() {
		sender.mu.Lock()
		first := len(sender.sent) == 1
		sender.mu.Unlock()
		if first {
			rig.eng.Cancel(<-idCh)
		}
	}

	id, err := rig.eng.Submit(Request{Actions: messages("one", "two", "three"), Destinations: []int64{-1}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	idCh <- id

	term := rig.waitTerminal(t, id)
	if term.Status != ledger.StatusAborted {
		t.Fatalf("status = %s, want aborted", term.Status)
	}
	// The first item was already delivered and stays delivered.
	if term.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", term.Delivered)
	}
	if got := sender.attempts("three"); got != 0 {
		t.Fatalf("action 3 attempted %d times after cancel", got)
	}
}

func TestProgressEventPerItem(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	rig := newRig(t, Config{Throttle: time.Millisecond}, sender)

	id, _ := rig.eng.Submit(Request{Actions: messages("one", "two"), Destinations: []int64{-1}})

	var progress []Progress
	deadline := time.After(5 * time.Second)
	for len(progress) < 2 {
		select {
		case e := <-rig.events:
			if e.Type == eventbus.TypeJobProgress {
				if p := e.Data.(Progress); p.JobID == id {
					progress = append(progress, p)
				}
			}
		case <-deadline:
			t.Fatalf("saw %d progress events, want 2", len(progress))
		}
	}
	for i, p := range progress {
		if p.ActionIndex != i || p.Outcome != ledger.OutcomeDelivered {
			t.Fatalf("progress %d = %+v", i, p)
		}
	}
}
