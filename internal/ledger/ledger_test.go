package ledger

import (
	"errors"
	"testing"

	"quizcast/internal/bulk"
	"quizcast/pkg/logx"
)

func testActions() []bulk.Action {
	return []bulk.Action{bulk.MessageAction{Text: "hi"}}
}

func TestMonotonicIDs(t *testing.T) {
	t.Parallel()
	l := New(nil, logx.Nop())
	a := l.Create(1, testActions(), []int64{-1})
	b := l.Create(1, testActions(), []int64{-1})
	if b != a+1 {
		t.Fatalf("ids = %d, %d; want monotonic", a, b)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	l := New(nil, logx.Nop())
	id := l.Create(1, testActions(), []int64{-1, -2})

	if j, _ := l.Snapshot(id); j.Status != StatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
	if err := l.Begin(id); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Record(id, ItemResult{Destination: -1, ActionIndex: 0, Outcome: OutcomeDelivered, Attempts: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Finish(id, StatusCompleted); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	j, ok := l.Snapshot(id)
	if !ok || j.Status != StatusCompleted || len(j.Results) != 1 {
		t.Fatalf("unexpected snapshot: %+v", j)
	}
	if j.Delivered() != 1 || j.Failed() != 0 {
		t.Fatalf("counts = (%d, %d)", j.Delivered(), j.Failed())
	}
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()
	l := New(nil, logx.Nop())
	id := l.Create(1, testActions(), []int64{-1})

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{name: "record before begin", run: func() error { return l.Record(id, ItemResult{}) }, want: ErrNotRunning},
		{name: "finish before begin", run: func() error { return l.Finish(id, StatusCompleted) }, want: ErrNotRunning},
		{name: "begin unknown job", run: func() error { return l.Begin(999) }, want: ErrUnknownJob},
		{name: "finish with non-terminal status", run: func() error { return l.Finish(id, StatusRunning) }, want: ErrNotRunning},
	}
	for _, tt := range tests {
		if err := tt.run(); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}

	if err := l.Begin(id); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := l.Begin(id); !errors.Is(err, ErrNotPending) {
		t.Fatalf("double Begin err = %v, want ErrNotPending", err)
	}
	if err := l.Finish(id, StatusAborted); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := l.Finish(id, StatusCompleted); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("re-finish err = %v, want ErrNotRunning", err)
	}
	if err := l.Record(id, ItemResult{}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("record after terminal err = %v, want ErrNotRunning", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()
	l := New(nil, logx.Nop())
	id := l.Create(1, testActions(), []int64{-1})
	_ = l.Begin(id)

	snap, _ := l.Snapshot(id)
	snap.Results = append(snap.Results, ItemResult{Outcome: OutcomeFailed})

	if j, _ := l.Snapshot(id); len(j.Results) != 0 {
		t.Fatal("mutating a snapshot leaked into the ledger")
	}
}
