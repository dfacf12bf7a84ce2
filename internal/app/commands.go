package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"heraldbot/internal/dispatch"
	"heraldbot/internal/logring"
	"heraldbot/internal/services/announce"
	kit "heraldbot/internal/transport"
	logx "heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

// Commands routes incoming updates to the bot's command handlers:
//
//	/announce [--anon] <text>  start an announcement to this chat's members
//	/cancel [job]              cancel one job, or all running jobs
//	/status [job]              show job results
//	/logs [n]                  show recent log lines
//	/ping                      liveness check
type Commands struct {
	adapter kit.Adapter
	ann     *announce.Service
	dir     *directory
	hub     *ConfirmHub
	ring    *logring.Ring
	log     logx.Logger

	mu     sync.Mutex
	owners map[int64]bool
}

func NewCommands(adapter kit.Adapter, ann *announce.Service, dir *directory, hub *ConfirmHub, ring *logring.Ring, owners []int64, log logx.Logger) *Commands {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Commands{
		adapter: adapter,
		ann:     ann,
		dir:     dir,
		hub:     hub,
		ring:    ring,
		log:     log,
	}
	c.SetOwners(owners)
	return c
}

func (c *Commands) SetOwners(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	c.mu.Lock()
	c.owners = m
	c.mu.Unlock()
}

func (c *Commands) isOwner(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[id]
}

// DispatchLoop consumes updates until ctx is canceled.
func (c *Commands) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				c.handleMessage(ctx, up.Message)
			case kit.UpdateCallback:
				c.handleCallback(ctx, up.Callback)
			}
		}
	}
}

func (c *Commands) handleMessage(ctx context.Context, m *kit.Message) {
	if m == nil {
		return
	}
	// Every group message refreshes the member registry, command or not.
	c.dir.Note(ctx, m)

	if !strings.HasPrefix(m.Text, "/") {
		return
	}
	cmd, args := splitCommand(m.Text)

	switch cmd {
	case "ping":
		c.reply(ctx, m, "pong 🏓")
	case "announce":
		c.cmdAnnounce(ctx, m, args)
	case "cancel":
		c.cmdCancel(ctx, m, args)
	case "status":
		c.cmdStatus(ctx, m, args)
	case "logs":
		c.cmdLogs(ctx, m, args)
	}
}

func (c *Commands) handleCallback(ctx context.Context, cb *kit.Callback) {
	if cb == nil {
		return
	}
	scope, action, payload := tgui.Split(cb.Data)
	if scope != "announce" {
		return
	}
	if !c.isOwner(cb.FromID) {
		_ = c.adapter.AnswerCallback(ctx, cb.ID, "Owners only.")
		return
	}
	if !c.hub.Resolve(payload, action == "yes") {
		_ = c.adapter.AnswerCallback(ctx, cb.ID, "This prompt already expired.")
		return
	}
	_ = c.adapter.AnswerCallback(ctx, cb.ID, "")
}

func (c *Commands) cmdAnnounce(ctx context.Context, m *kit.Message, args []string) {
	if !c.isOwner(m.FromID) {
		c.reply(ctx, m, "Owners only.")
		return
	}
	if !m.IsGroup {
		c.reply(ctx, m, "Run /announce inside the group you want to announce to.")
		return
	}

	anonymous := false
	for len(args) > 0 && strings.HasPrefix(args[0], "--") {
		switch args[0] {
		case "--anon":
			anonymous = true
		default:
			c.reply(ctx, m, "Unknown flag "+args[0]+". Usage: /announce [--anon] <text>")
			return
		}
		args = args[1:]
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		c.reply(ctx, m, "Usage: /announce [--anon] <text>")
		return
	}

	statusRef, err := c.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, "📨 Preparing announcement…", nil)
	if err != nil {
		c.log.Warn("status message failed", logx.Err(err))
	}

	req := announce.Request{
		ChatID:     m.ChatID,
		ActorID:    m.FromID,
		From:       m.FromUsername,
		Text:       text,
		Anonymous:  anonymous,
		OnProgress: c.progressEditor(statusRef),
	}

	// Announce blocks for the whole job; keep the dispatch loop responsive.
	go func() {
		res, err := c.ann.Announce(context.WithoutCancel(ctx), req)
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		switch {
		case errors.Is(err, announce.ErrRecipientFetch):
			c.reply(rctx, m, "⚠️ Could not load the member list; nothing was sent.")
		case errors.Is(err, announce.ErrNoRecipients):
			c.reply(rctx, m, "I haven't seen any members in this chat yet; nothing to send.")
		case err != nil:
			c.reply(rctx, m, "Announcement failed: "+err.Error())
		default:
			c.reply(rctx, m, summarize(res))
		}
	}()
}

// progressEditor keeps one pinned status message updated as batches settle.
func (c *Commands) progressEditor(ref kit.MessageRef) dispatch.ProgressFunc {
	if ref.ChatID == 0 {
		return nil
	}
	return func(p dispatch.Progress) {
		ectx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		text := fmt.Sprintf("📨 Sending… %d delivered, %d failed, %d to go.", p.Success, p.Fail, p.Pending)
		if err := c.adapter.EditText(ectx, ref, text, nil); err != nil {
			c.log.Debug("progress edit failed", logx.Any("err", err))
		}
	}
}

func (c *Commands) cmdCancel(ctx context.Context, m *kit.Message, args []string) {
	if !c.isOwner(m.FromID) {
		c.reply(ctx, m, "Owners only.")
		return
	}
	if len(args) > 0 {
		if c.ann.CancelJob(args[0]) {
			c.reply(ctx, m, "🛑 Cancelling "+args[0]+"; in-flight batch will still settle.")
		} else {
			c.reply(ctx, m, "No running job "+args[0]+".")
		}
		return
	}
	if n := c.ann.CancelAll(); n > 0 {
		c.reply(ctx, m, fmt.Sprintf("🛑 Cancelling %d running job(s).", n))
	} else {
		c.reply(ctx, m, "Nothing is running.")
	}
}

func (c *Commands) cmdStatus(ctx context.Context, m *kit.Message, args []string) {
	if !c.isOwner(m.FromID) {
		c.reply(ctx, m, "Owners only.")
		return
	}
	if len(args) > 0 {
		st, ok := c.ann.Status(args[0])
		if !ok {
			c.reply(ctx, m, "Unknown job "+args[0]+".")
			return
		}
		c.reply(ctx, m, formatStatus(st))
		return
	}

	jobs := c.ann.Jobs()
	if len(jobs) == 0 {
		c.reply(ctx, m, "No announcements yet.")
		return
	}
	var b strings.Builder
	for i, st := range jobs {
		if i >= 10 {
			break
		}
		b.WriteString(formatStatus(st))
		b.WriteByte('\n')
	}
	c.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (c *Commands) cmdLogs(ctx context.Context, m *kit.Message, args []string) {
	if !c.isOwner(m.FromID) {
		c.reply(ctx, m, "Owners only.")
		return
	}
	n := 20
	if len(args) > 0 {
		if v, err := parsePositive(args[0]); err == nil {
			n = v
		}
	}
	entries := c.ring.Tail(n)
	if len(entries) == 0 {
		c.reply(ctx, m, "Log buffer is empty.")
		return
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %-5s %s\n", e.At.Format("15:04:05"), e.Severity, e.Message)
	}
	_, err := c.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		tgui.Pre(strings.TrimRight(b.String(), "\n")).String(), &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		c.log.Warn("logs reply failed", logx.Err(err))
	}
}

func (c *Commands) reply(ctx context.Context, m *kit.Message, text string) {
	_, err := c.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}, text, nil)
	if err != nil {
		c.log.Warn("reply failed", logx.Err(err))
	}
}

// splitCommand parses "/announce@bot --anon hi there" into ("announce",
// ["--anon","hi","there"]).
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

func summarize(res dispatch.Result) string {
	switch res.Status {
	case dispatch.StatusCanceled:
		if res.Success+res.Fail == 0 {
			return "❌ Announcement cancelled; nothing was sent."
		}
		return fmt.Sprintf("🛑 Announcement cancelled: %d delivered, %d failed, %d never attempted.",
			res.Success, res.Fail, res.Pending)
	case dispatch.StatusConfirmTimeout:
		return "⌛ Confirmation timed out; nothing was sent."
	default:
		if res.Fail == 0 {
			return fmt.Sprintf("✅ Announcement delivered to all %d members.", res.Success)
		}
		return fmt.Sprintf("✅ Announcement finished: %d delivered, %d unreachable.", res.Success, res.Fail)
	}
}

func formatStatus(st announce.JobStatus) string {
	state := string(st.Status)
	if st.Running {
		state = "running"
	}
	p := st.Progress
	return fmt.Sprintf("%s  %s  %d/%d delivered, %d failed", st.ID, state, p.Success, p.Total, p.Fail)
}

func parsePositive(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("must be positive")
	}
	return v, nil
}
