// Package router turns inbound transport updates into parsed previews,
// confirmed dispatch jobs and the inline UI around them.
package router

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/config"
	"quizcast/internal/dispatch"
	"quizcast/internal/eventbus"
	"quizcast/internal/ledger"
	"quizcast/internal/schedule"
	"quizcast/internal/storage"
	kit "quizcast/internal/transport"
	logx "quizcast/pkg/logx"
)

const handlerTimeout = 30 * time.Second

// Request carries everything a handler needs for one update.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback payload (raw string)

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// pending is one pasted document waiting for chat selection. A user has at
// most one; pasting again replaces it.
type pending struct {
	id       int64
	owner    int64
	chat     kit.ChatTarget
	actions  []bulk.Action
	selected map[int64]bool
	order    []int64 // selection order, drives destination order
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	cfgm    *config.Manager
	engine  *dispatch.Engine
	led     *ledger.Ledger
	store   storage.Store     // nil when persistence is disabled
	sched   *schedule.Service // nil when schedule.enabled is false
	bus     eventbus.Bus

	mu      sync.Mutex
	pending map[int64]*pending
	nextPID int64

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, cfgm *config.Manager, engine *dispatch.Engine,
	led *ledger.Ledger, store storage.Store, sched *schedule.Service, bus eventbus.Bus) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		engine:  engine,
		led:     led,
		store:   store,
		sched:   sched,
		bus:     bus,
		pending: map[int64]*pending{},
		jobs:    make(chan func(), 256),
	}
}

// Run drains updates until ctx is cancelled or the channel closes.
// Handlers run on a small worker pool so one slow send cannot stall the
// update stream.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		}()
	}
	r.log.Info("router started", logx.Int("workers", workers))

	if r.bus != nil {
		events, unsub := r.bus.Subscribe(64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forwardEvents(ctx, events)
		}()
		defer unsub()
	}

	defer func() {
		wg.Wait()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	var (
		name string
		args []string
		h    HandlerFunc
	)
	switch {
	case strings.HasPrefix(text, "/"):
		parts := strings.Fields(text)
		word := strings.TrimPrefix(parts[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		name = word
		args = parts[1:]
		h = r.commandHandler(word)
		if h == nil {
			h = r.cmdUnknown
		}
	case isChatLine(text):
		// Registration is private-chat only; a "Name:-100..." line in a
		// group is somebody else's message.
		if msg.IsGroup {
			return
		}
		name = "register_chat"
		h = r.cmdRegisterChat
	case looksLikeBulk(text):
		if msg.IsGroup {
			return
		}
		name = "bulk"
		h = r.cmdBulk
	default:
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		Command: name,
		Args:    args,
		Adapter: r.adapter,
		Config:  r.cfgm.Get(),
		Logger: r.log.With(
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}
	r.enqueue(ctx, req, h)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload := splitCallback(cb.Data)
	h := r.callbackHandler(scope, action)
	if h == nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	name := "cb:" + scope + ":" + action
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		Command: name,
		Payload: payload,
		Adapter: r.adapter,
		Config:  r.cfgm.Get(),
		Logger: r.log.With(
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", name),
		),
	}
	r.enqueue(ctx, req, h)
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(handlerTimeout),
	)
	job := func() {
		_ = final(ctx, req)
		if cb := req.Update.Callback; cb != nil {
			// best-effort to stop the "loading" spinner
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	}
	select {
	case r.jobs <- job:
	default:
		_, _ = r.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

// splitCallback splits "scope:action:payload"; the payload keeps any
// further colons.
func splitCallback(data string) (scope, action, payload string) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}

// looksLikeBulk reports whether pasted text carries block markers worth
// parsing.
func looksLikeBulk(text string) bool {
	up := strings.ToUpper(text)
	return strings.Contains(up, "#Q") || strings.Contains(up, "#MSG")
}

// isChatLine matches manual chat registration lines like "Class9:-10012345".
func isChatLine(text string) bool {
	if strings.Count(text, "\n") > 0 {
		return false
	}
	i := strings.IndexByte(text, ':')
	if i <= 0 || i == len(text)-1 {
		return false
	}
	id := strings.TrimSpace(text[i+1:])
	if strings.HasPrefix(id, "-") {
		id = id[1:]
	}
	if id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
