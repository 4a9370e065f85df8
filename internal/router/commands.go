package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kit "quizcast/internal/transport"
	logx "quizcast/pkg/logx"
	"quizcast/pkg/tgui"
)

const (
	welcomeTeacher = "👋 Hi! Paste your questions here — I'll turn them into polls for your classes. Fast & fun! ✨"
	welcomeOwner   = "👑 Welcome, Owner! Manage teachers and target chats from here. Ready when you are. 🎯"
	msgAnalyzing   = "⏳ Got it — analyzing your text now..."
	addChatHint    = "Send chat in format Name:chat_id (example: Class9:-10012345)"
)

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

func (r *Router) commandHandler(word string) HandlerFunc {
	switch word {
	case "start":
		return r.cmdStart
	case "help":
		return r.cmdHelp
	case "jobs":
		return r.cmdJobs
	case "cancel":
		return r.cmdCancel
	case "schedule":
		return r.cmdSchedule
	case "chats":
		return r.cmdChats
	default:
		return nil
	}
}

func (r *Router) callbackHandler(scope, action string) HandlerFunc {
	switch scope {
	case "bulk":
		switch action {
		case "toggle":
			return r.cbToggleChat
		case "confirm":
			return r.cbConfirmSend
		case "test":
			return r.cbTestSend
		case "cancel":
			return r.cbCancelPending
		}
	case "chats":
		switch action {
		case "add":
			return r.cbAddChatHint
		case "list":
			return r.cmdChats
		}
	}
	return nil
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	welcome := welcomeTeacher
	if req.Config != nil && req.Config.IsOwner(req.FromID) {
		welcome = welcomeOwner
	}
	kb := tgui.NewInline().
		Row(tgui.Btn("➕ Add Chat (manual)", tgui.Data("chats", "add", ""))).
		Row(tgui.Btn("📒 My Chats", tgui.Data("chats", "list", "")))
	opts := *htmlOpts
	opts.ReplyMarkupAdapter = kb.Markup()
	_, err := req.Adapter.SendText(ctx, req.Chat, welcome, &opts)
	return err
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	text := tgui.JoinH("\n",
		tgui.B("quizcast"),
		tgui.Esc("Paste a document with #MSG / #Q blocks to get a preview and a send keyboard."),
		"",
		tgui.Esc("/start — onboarding"),
		tgui.Esc("/chats — list your registered chats"),
		tgui.Esc("Name:chat_id — register a chat"),
		tgui.Esc("/jobs — recent jobs"),
		tgui.Esc("/cancel <id> — stop a job between items"),
		tgui.Esc("/schedule <spec> — defer the pending selection (10m, 02:30 or cron)"),
		tgui.Esc("/schedule — list deferred sends, /schedule rm <id> to drop one"),
	).String()
	_, err := req.Adapter.SendText(ctx, req.Chat, text, htmlOpts)
	return err
}

func (r *Router) cmdUnknown(ctx context.Context, req *Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, "Unknown command. Try /help.", nil)
	return err
}

// cmdRegisterChat stores a "Name:chat_id" line. Owner-added chats are
// global (visible to every teacher).
func (r *Router) cmdRegisterChat(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	text := strings.TrimSpace(msg.Text)
	i := strings.IndexByte(text, ':')
	name := strings.TrimSpace(text[:i])
	chatID, err := strconv.ParseInt(strings.TrimSpace(text[i+1:]), 10, 64)
	if err != nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Invalid chat_id. Use a numeric chat id like -100123456789.", nil)
		return err
	}

	if r.store == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Chat registry needs storage enabled in the config.", nil)
		return err
	}
	isOwner := req.Config != nil && req.Config.IsOwner(req.FromID)
	c := storageChat(name, chatID, req.FromID, isOwner)
	if err := r.store.UpsertChat(ctx, c); err != nil {
		req.Logger.Warn("chat upsert failed", logx.Err(err))
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not save that chat, try again.", nil)
		return serr
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Added chat: %s (%d)", name, chatID), nil)
	return err
}

func (r *Router) cmdChats(ctx context.Context, req *Request) error {
	if r.store == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Chat registry needs storage enabled in the config.", nil)
		return err
	}
	chats, err := r.store.ListChats(ctx, req.FromID)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Could not load chats.", nil)
		return serr
	}
	if len(chats) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No chats yet. "+addChatHint, nil)
		return err
	}
	parts := make([]tgui.H, 0, len(chats)+1)
	parts = append(parts, tgui.B("Your chats"))
	for _, c := range chats {
		tag := ""
		if c.Global {
			tag = " (global)"
		}
		parts = append(parts, tgui.JoinH(" ", tgui.Esc("•"), tgui.Esc(c.Name), tgui.Code(strconv.FormatInt(c.ChatID, 10)), tgui.Esc(tag)))
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, tgui.JoinH("\n", parts...).String(), htmlOpts)
	return err
}

func (r *Router) cbAddChatHint(ctx context.Context, req *Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, addChatHint, nil)
	return err
}

func (r *Router) cmdJobs(ctx context.Context, req *Request) error {
	isOwner := req.Config != nil && req.Config.IsOwner(req.FromID)
	jobs := r.led.Recent(20)
	lines := make([]tgui.H, 0, len(jobs)+1)
	lines = append(lines, tgui.B("Recent jobs"))
	shown := 0
	for _, j := range jobs {
		if !isOwner && j.CreatedBy != req.FromID {
			continue
		}
		if shown >= 10 {
			break
		}
		shown++
		lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s — %d actions × %d chats, delivered %d, failed %d",
			j.ID, j.Status, len(j.Actions), len(j.Destinations), j.Delivered(), j.Failed())))
	}
	if shown == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No jobs yet.", nil)
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, tgui.JoinH("\n", lines...).String(), htmlOpts)
	return err
}

func (r *Router) cmdCancel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /cancel <job id>", nil)
		return err
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "Usage: /cancel <job id>", nil)
		return serr
	}
	j, ok := r.led.Snapshot(id)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Job #%d not found.", id), nil)
		return err
	}
	isOwner := req.Config != nil && req.Config.IsOwner(req.FromID)
	if !isOwner && j.CreatedBy != req.FromID {
		_, err := req.Adapter.SendText(ctx, req.Chat, "You can only cancel your own jobs.", nil)
		return err
	}
	if j.Status.Terminal() {
		_, err := req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Job #%d already finished (%s).", id, j.Status), nil)
		return err
	}
	r.engine.Cancel(id)
	_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("❌ Job #%d will stop after the current item.", id), nil)
	return err
}

// cmdSchedule defers the user's pending selection, lists deferred sends,
// or removes one.
func (r *Router) cmdSchedule(ctx context.Context, req *Request) error {
	if r.sched == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Scheduling is disabled in the config.", nil)
		return err
	}

	switch {
	case len(req.Args) == 0:
		entries := r.sched.List()
		if len(entries) == 0 {
			_, err := req.Adapter.SendText(ctx, req.Chat, "No deferred sends. Paste a document, pick chats, then /schedule <spec>.", nil)
			return err
		}
		lines := make([]tgui.H, 0, len(entries)+1)
		lines = append(lines, tgui.B("Deferred sends"))
		for _, e := range entries {
			kind := "once"
			if e.Recurring {
				kind = "recurring"
			}
			lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s (%s, %s) next %s",
				e.ID, e.Name, e.Spec, kind, e.Next.Format("2006-01-02 15:04"))))
		}
		_, err := req.Adapter.SendText(ctx, req.Chat, tgui.JoinH("\n", lines...).String(), htmlOpts)
		return err

	case req.Args[0] == "rm" && len(req.Args) == 2:
		id, err := strconv.ParseInt(req.Args[1], 10, 64)
		if err != nil || !r.sched.Remove(id) {
			_, serr := req.Adapter.SendText(ctx, req.Chat, "No deferred send with that id.", nil)
			return serr
		}
		_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Removed deferred send #%d.", id), nil)
		return err

	default:
		return r.scheduleSelection(ctx, req, strings.Join(req.Args, " "))
	}
}
