package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/dispatch"
	"quizcast/internal/storage"
	kit "quizcast/internal/transport"
	"quizcast/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

// cmdBulk handles a pasted document: parse, preview, then offer the chat
// selection keyboard. Parse failures report the block and reason; nothing
// is queued.
func (r *Router) cmdBulk(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	_, _ = req.Adapter.SendText(ctx, req.Chat, msgAnalyzing, nil)

	actions, err := bulk.Parse(msg.Text)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "❌ Parse Error: "+err.Error(), nil)
		return serr
	}

	chats, err := r.listChats(ctx, req.FromID)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not load chats.", nil)
		return serr
	}
	if len(chats) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat,
			"No chats found. Add a chat first using Name:chat_id, then paste again.", nil)
		return err
	}

	p := r.newPending(req.FromID, req.Chat, actions)
	kb := selectionKeyboard(p.id, chats)
	opts := *htmlOpts
	opts.ReplyMarkupAdapter = kb

	_, err = req.Adapter.SendText(ctx, req.Chat, previewText(actions), &opts)
	return err
}

func (r *Router) listChats(ctx context.Context, viewerID int64) ([]storage.Chat, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListChats(ctx, viewerID)
}

func (r *Router) newPending(owner int64, chat kit.ChatTarget, actions []bulk.Action) *pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPID++
	p := &pending{
		id:       r.nextPID,
		owner:    owner,
		chat:     chat,
		actions:  actions,
		selected: map[int64]bool{},
	}
	r.pending[owner] = p
	return p
}

// lookupPending resolves the caller's pending selection and guards against
// stale keyboards from a replaced paste.
func (r *Router) lookupPending(owner int64, pid int64) *pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending[owner]
	if p == nil || p.id != pid {
		return nil
	}
	return p
}

func (r *Router) dropPending(owner int64, pid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.pending[owner]; p != nil && p.id == pid {
		delete(r.pending, owner)
	}
}

// previewText renders the parse summary: counts plus the first 3 items.
func previewText(actions []bulk.Action) string {
	polls, msgs := 0, 0
	for _, a := range actions {
		switch a.(type) {
		case bulk.PollAction:
			polls++
		case bulk.MessageAction:
			msgs++
		}
	}

	lines := make([]tgui.H, 0, 5)
	lines = append(lines, tgui.Esc(fmt.Sprintf("✅ Parsed: %d items — %d polls, %d messages.", len(actions), polls, msgs)))
	lines = append(lines, tgui.Esc("Preview (first 3):"))
	for i, a := range actions {
		if i >= 3 {
			break
		}
		switch act := a.(type) {
		case bulk.MessageAction:
			lines = append(lines, tgui.Esc("[MSG] "+tgui.TruncRunes(act.Text, 60)))
		case bulk.PollAction:
			suffix := ""
			if act.Quiz() {
				suffix = " - Quiz"
			}
			lines = append(lines, tgui.Esc(fmt.Sprintf("[POLL] %s (%d opts)%s",
				tgui.TruncRunes(act.Question, 60), len(act.Options), suffix)))
		}
	}
	lines = append(lines, "", tgui.Esc("Pick target chats, then Confirm Send."))
	return tgui.JoinH("\n", lines...).String()
}

// selectionKeyboard lays out one toggle button per chat (2 columns) above
// the confirm / test / cancel rows.
func selectionKeyboard(pid int64, chats []storage.Chat) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	var row []tele.Btn
	for _, c := range chats {
		payload := strconv.FormatInt(pid, 10) + ":" + strconv.FormatInt(c.ChatID, 10)
		row = append(row, tgui.Btn(c.Name, tgui.Data("bulk", "toggle", payload)))
		if len(row) == 2 {
			kb.Row(row...)
			row = nil
		}
	}
	if len(row) > 0 {
		kb.Row(row...)
	}
	ps := strconv.FormatInt(pid, 10)
	kb.Row(tgui.Btn("✅ Confirm Send", tgui.Data("bulk", "confirm", ps)))
	kb.Row(tgui.Btn("🧪 Test Send", tgui.Data("bulk", "test", ps)))
	kb.Row(tgui.Btn("❌ Cancel", tgui.Data("bulk", "cancel", ps)))
	return kb.Markup()
}

func (r *Router) cbToggleChat(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	parts := strings.SplitN(req.Payload, ":", 2)
	if len(parts) != 2 {
		return nil
	}
	pid, err1 := strconv.ParseInt(parts[0], 10, 64)
	chatID, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil
	}

	p := r.lookupPending(req.FromID, pid)
	if p == nil {
		return r.adapter.AnswerCallback(ctx, cb.ID, "This selection expired; paste again.")
	}

	r.mu.Lock()
	note := "Selected"
	if p.selected[chatID] {
		delete(p.selected, chatID)
		for i, id := range p.order {
			if id == chatID {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
		note = "Removed"
	} else {
		p.selected[chatID] = true
		p.order = append(p.order, chatID)
	}
	r.mu.Unlock()

	return r.adapter.AnswerCallback(ctx, cb.ID, note)
}

func (r *Router) cbConfirmSend(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	pid, _ := strconv.ParseInt(req.Payload, 10, 64)
	p := r.lookupPending(req.FromID, pid)
	if p == nil {
		return r.adapter.AnswerCallback(ctx, cb.ID, "This selection expired; paste again.")
	}

	r.mu.Lock()
	dests := append([]int64(nil), p.order...)
	r.mu.Unlock()
	if len(dests) == 0 {
		return r.adapter.AnswerCallback(ctx, cb.ID, "No chat selected. Pick at least one.")
	}

	id, err := r.engine.Submit(dispatch.Request{
		CreatedBy:    p.owner,
		Actions:      p.actions,
		Destinations: dests,
	})
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not queue the job: "+err.Error(), nil)
		return serr
	}
	r.dropPending(req.FromID, pid)

	targets := make([]string, len(dests))
	for i, d := range dests {
		targets[i] = strconv.FormatInt(d, 10)
	}
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "Sending queued.")
	_, err = req.Adapter.SendText(ctx, req.Chat,
		fmt.Sprintf("🚀 Sending started — Job #%d. Targets: %s. I'll update you when done.",
			id, strings.Join(targets, ", ")), nil)
	return err
}

// cbTestSend runs the first 2 items against the requester's own chat as a
// dry run, through the normal pipeline so throttling still applies.
func (r *Router) cbTestSend(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	pid, _ := strconv.ParseInt(req.Payload, 10, 64)
	p := r.lookupPending(req.FromID, pid)
	if p == nil {
		return r.adapter.AnswerCallback(ctx, cb.ID, "This selection expired; paste again.")
	}

	actions := p.actions
	if len(actions) > 2 {
		actions = actions[:2]
	}
	id, err := r.engine.Submit(dispatch.Request{
		CreatedBy:    p.owner,
		Actions:      actions,
		Destinations: []int64{req.Chat.ChatID},
	})
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not queue the test send: "+err.Error(), nil)
		return serr
	}
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "Test sending first 2 items...")
	_, err = req.Adapter.SendText(ctx, req.Chat,
		fmt.Sprintf("🧪 Test send queued — Job #%d, %d item(s) to this chat.", id, len(actions)), nil)
	return err
}

func (r *Router) cbCancelPending(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	pid, _ := strconv.ParseInt(req.Payload, 10, 64)
	if r.lookupPending(req.FromID, pid) == nil {
		return r.adapter.AnswerCallback(ctx, cb.ID, "Nothing to cancel.")
	}
	r.dropPending(req.FromID, pid)
	_, err := req.Adapter.SendText(ctx, req.Chat, "❌ Selection discarded.", nil)
	return err
}

// scheduleSelection defers the caller's pending selection per spec.
func (r *Router) scheduleSelection(ctx context.Context, req *Request, spec string) error {
	r.mu.Lock()
	p := r.pending[req.FromID]
	var dests []int64
	if p != nil {
		dests = append([]int64(nil), p.order...)
	}
	r.mu.Unlock()

	if p == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Nothing pending. Paste a document first.", nil)
		return err
	}
	if len(dests) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No chat selected. Pick chats on the keyboard first.", nil)
		return err
	}

	name := fmt.Sprintf("deferred by %d", req.FromID)
	entry, err := r.sched.Defer(name, spec, dispatch.Request{
		CreatedBy:    p.owner,
		Actions:      p.actions,
		Destinations: dests,
	})
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not schedule: "+err.Error(), nil)
		return serr
	}
	r.dropPending(req.FromID, p.id)

	_, err = req.Adapter.SendText(ctx, req.Chat,
		fmt.Sprintf("⏰ Deferred send #%d registered (%s). Next fire: %s.",
			entry.ID, entry.Spec, entry.Next.Format(time.RFC1123)), nil)
	return err
}

func storageChat(name string, chatID, fromID int64, global bool) storage.Chat {
	return storage.Chat{
		ChatID:    chatID,
		Name:      name,
		OwnerID:   fromID,
		Global:    global,
		CreatedAt: time.Now(),
	}
}
