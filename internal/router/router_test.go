package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/config"
	"quizcast/internal/dispatch"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	"quizcast/internal/storage"
	kit "quizcast/internal/transport"
	logx "quizcast/pkg/logx"
)

type sentText struct {
	ChatID int64
	Text   string
}

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []sentText
	polls   []int64
	answers []string
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{ChatID: to.ChatID, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendPoll(_ context.Context, to kit.ChatTarget, _ bulk.PollAction) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentText
	for _, s := range f.texts {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	chats map[int64]storage.Chat
}

func newMemStore() *memStore { return &memStore{chats: map[int64]storage.Chat{}} }

func (m *memStore) UpsertChat(_ context.Context, c storage.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ChatID] = c
	return nil
}

func (m *memStore) DeleteChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	return nil
}

func (m *memStore) ListChats(_ context.Context, viewerID int64) ([]storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Chat
	for _, c := range m.chats {
		if c.Global || c.OwnerID == viewerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) InsertJob(context.Context, storage.JobRecord) error          { return nil }
func (m *memStore) SetJobStatus(context.Context, int64, string) error           { return nil }
func (m *memStore) AppendResult(context.Context, storage.ResultRecord) error    { return nil }
func (m *memStore) RecentJobs(context.Context, int64, int) ([]storage.JobRecord, error) {
	return nil, nil
}
func (m *memStore) Results(context.Context, int64) ([]storage.ResultRecord, error) { return nil, nil }
func (m *memStore) LastJobID(context.Context) (int64, error)                       { return 0, nil }
func (m *memStore) Close() error                                                   { return nil }

type routerRig struct {
	r       *Router
	adapter *fakeAdapter
	store   *memStore
	bus     eventbus.Bus
	engine  *dispatch.Engine
	cancel  context.CancelFunc
}

func newRouterRig(t *testing.T) *routerRig {
	t.Helper()

	adapter := &fakeAdapter{}
	store := newMemStore()
	bus := eventbus.New()
	led := ledger.New(nil, logx.Nop())
	gate := dispatch.NewGate(time.Millisecond)
	engine := dispatch.New(dispatch.Config{Throttle: time.Millisecond, RetryMax: 1, QueueSize: 8},
		adapter, gate, led, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		engine.Stop(sctx)
		scancel()
		cancel()
	})

	cfgm := config.NewManager("")
	cfgm.Commit(&config.Config{
		Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{900}},
	})

	r := New(logx.Nop(), adapter, cfgm, engine, led, store, nil, bus)
	return &routerRig{r: r, adapter: adapter, store: store, bus: bus, engine: engine, cancel: cancel}
}

func (rig *routerRig) request(fromID, chatID int64, text string) *Request {
	msg := &kit.Message{ChatID: chatID, FromID: fromID, Text: text}
	return &Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		Adapter: rig.adapter,
		Config:  rig.r.cfgm.Get(),
		Logger:  logx.Nop(),
	}
}

func (rig *routerRig) callback(fromID, chatID int64, data string) *Request {
	_, _, payload := splitCallback(data)
	cb := &kit.Callback{ID: "cb1", FromID: fromID, ChatID: chatID, Data: data}
	return &Request{
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: cb},
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		Payload: payload,
		Adapter: rig.adapter,
		Config:  rig.r.cfgm.Get(),
		Logger:  logx.Nop(),
	}
}

func TestIsChatLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"Class9:-10012345", true},
		{"Class 9:12345", true},
		{"no colon here", false},
		{"name:", false},
		{":123", false},
		{"name:12a", false},
		{"line one\nClass9:-1", false},
	}
	for _, tc := range cases {
		if got := isChatLine(tc.in); got != tc.want {
			t.Fatalf("isChatLine(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLooksLikeBulk(t *testing.T) {
	t.Parallel()

	if !looksLikeBulk("#MSG\nhello") || !looksLikeBulk("#q1\nWhat?") {
		t.Fatal("marker text not detected")
	}
	if looksLikeBulk("plain text") {
		t.Fatal("plain text misdetected")
	}
}

func TestSplitCallback(t *testing.T) {
	t.Parallel()

	s, a, p := splitCallback("bulk:toggle:7:-100")
	if s != "bulk" || a != "toggle" || p != "7:-100" {
		t.Fatalf("got (%q, %q, %q)", s, a, p)
	}
	s, a, p = splitCallback("chats:list")
	if s != "chats" || a != "list" || p != "" {
		t.Fatalf("got (%q, %q, %q)", s, a, p)
	}
}

func TestPreviewText(t *testing.T) {
	t.Parallel()

	actions := []bulk.Action{
		bulk.MessageAction{Text: "Hello"},
		bulk.PollAction{Question: "What is 2+2?", Options: []string{"3", "4"}, CorrectOption: 1},
		bulk.PollAction{Question: "Pick one", Options: []string{"a", "b"}, CorrectOption: -1},
		bulk.MessageAction{Text: "Tail"},
	}
	got := previewText(actions)
	for _, want := range []string{
		"4 items", "2 polls", "2 messages",
		"[MSG] Hello",
		"[POLL] What is 2+2? (2 opts) - Quiz",
		"[POLL] Pick one (2 opts)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("preview missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Tail") {
		t.Fatalf("preview shows more than 3 items:\n%s", got)
	}
}

func TestRegisterChatGlobalFlag(t *testing.T) {
	t.Parallel()

	rig := newRouterRig(t)
	ctx := context.Background()

	// 900 is the configured owner, 10 is a teacher.
	if err := rig.r.cmdRegisterChat(ctx, rig.request(900, 900, "MainHall:-100555")); err != nil {
		t.Fatalf("owner register: %v", err)
	}
	if err := rig.r.cmdRegisterChat(ctx, rig.request(10, 10, "Class9:-100777")); err != nil {
		t.Fatalf("teacher register: %v", err)
	}

	ownerChats, _ := rig.store.ListChats(ctx, 900)
	teacherChats, _ := rig.store.ListChats(ctx, 10)
	if len(teacherChats) != 2 {
		t.Fatalf("teacher sees %d chats, want 2 (own + global)", len(teacherChats))
	}
	found := false
	for _, c := range ownerChats {
		if c.ChatID == -100555 && !c.Global {
			t.Fatal("owner-added chat must be global")
		}
		if c.ChatID == -100777 {
			found = true
		}
	}
	if found {
		t.Fatal("owner listing must not include the teacher's private chat")
	}
}

func TestBulkFlowConfirm(t *testing.T) {
	t.Parallel()

	rig := newRouterRig(t)
	ctx := context.Background()
	const teacher = int64(10)

	if err := rig.r.cmdRegisterChat(ctx, rig.request(teacher, teacher, "Class9:-100777")); err != nil {
		t.Fatalf("register: %v", err)
	}

	events, unsub := rig.bus.Subscribe(32)
	defer unsub()

	doc := "#MSG\nHello\n\n#Q1\nWhat is 2+2?\nA) 3\nB) 4\n#ANS: B"
	if err := rig.r.cmdBulk(ctx, rig.request(teacher, teacher, doc)); err != nil {
		t.Fatalf("cmdBulk: %v", err)
	}

	replies := rig.adapter.sentTo(teacher)
	if len(replies) < 2 || !strings.Contains(replies[len(replies)-1].Text, "2 items") {
		t.Fatalf("no preview reply: %+v", replies)
	}

	rig.r.mu.Lock()
	p := rig.r.pending[teacher]
	rig.r.mu.Unlock()
	if p == nil {
		t.Fatal("no pending selection recorded")
	}

	// Confirm without a selection is refused.
	if err := rig.r.cbConfirmSend(ctx, rig.callback(teacher, teacher, data("bulk", "confirm", p))); err != nil {
		t.Fatalf("cbConfirmSend: %v", err)
	}
	if last := lastAnswer(rig.adapter); !strings.Contains(last, "No chat selected") {
		t.Fatalf("want refusal, got %q", last)
	}

	if err := rig.r.cbToggleChat(ctx, rig.callback(teacher, teacher, togglePayload(p, -100777))); err != nil {
		t.Fatalf("cbToggleChat: %v", err)
	}
	if err := rig.r.cbConfirmSend(ctx, rig.callback(teacher, teacher, data("bulk", "confirm", p))); err != nil {
		t.Fatalf("cbConfirmSend: %v", err)
	}

	waitFinished(t, events)

	if got := rig.adapter.sentTo(-100777); len(got) != 1 || got[0].Text != "Hello" {
		t.Fatalf("class chat texts = %+v", got)
	}
	rig.adapter.mu.Lock()
	polls := append([]int64(nil), rig.adapter.polls...)
	rig.adapter.mu.Unlock()
	if len(polls) != 1 || polls[0] != -100777 {
		t.Fatalf("polls sent to %v, want [-100777]", polls)
	}

	rig.r.mu.Lock()
	stillPending := rig.r.pending[teacher] != nil
	rig.r.mu.Unlock()
	if stillPending {
		t.Fatal("pending selection must be dropped after confirm")
	}
}

func TestStaleKeyboardExpires(t *testing.T) {
	t.Parallel()

	rig := newRouterRig(t)
	ctx := context.Background()
	const teacher = int64(10)

	if err := rig.r.cmdRegisterChat(ctx, rig.request(teacher, teacher, "Class9:-100777")); err != nil {
		t.Fatalf("register: %v", err)
	}
	doc := "#MSG\nfirst"
	if err := rig.r.cmdBulk(ctx, rig.request(teacher, teacher, doc)); err != nil {
		t.Fatalf("cmdBulk: %v", err)
	}
	rig.r.mu.Lock()
	old := rig.r.pending[teacher]
	rig.r.mu.Unlock()

	// A second paste replaces the pending doc; the old keyboard is stale.
	if err := rig.r.cmdBulk(ctx, rig.request(teacher, teacher, "#MSG\nsecond")); err != nil {
		t.Fatalf("cmdBulk: %v", err)
	}
	if err := rig.r.cbConfirmSend(ctx, rig.callback(teacher, teacher, data("bulk", "confirm", old))); err != nil {
		t.Fatalf("cbConfirmSend: %v", err)
	}
	if last := lastAnswer(rig.adapter); !strings.Contains(last, "expired") {
		t.Fatalf("want expiry answer, got %q", last)
	}
}

func TestCancelCommandOwnership(t *testing.T) {
	t.Parallel()

	rig := newRouterRig(t)
	ctx := context.Background()

	id, err := rig.engine.Submit(dispatch.Request{
		CreatedBy:    10,
		Actions:      []bulk.Action{bulk.MessageAction{Text: "x"}},
		Destinations: []int64{-1},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := rig.request(20, 20, "/cancel")
	req.Args = []string{intArg(id)}
	if err := rig.r.cmdCancel(ctx, req); err != nil {
		t.Fatalf("cmdCancel: %v", err)
	}
	got := rig.adapter.sentTo(20)
	if len(got) == 0 || !strings.Contains(got[len(got)-1].Text, "your own jobs") {
		t.Fatalf("stranger cancel reply = %+v", got)
	}
}

func data(scope, action string, p *pending) string {
	return scope + ":" + action + ":" + intArg(p.id)
}

func togglePayload(p *pending, chatID int64) string {
	return "bulk:toggle:" + intArg(p.id) + ":" + intArg(chatID)
}

func intArg(v int64) string { return strconv.FormatInt(v, 10) }

func lastAnswer(f *fakeAdapter) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

func waitFinished(t *testing.T, events <-chan eventbus.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeJobFinished {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for job to finish")
		}
	}
}
