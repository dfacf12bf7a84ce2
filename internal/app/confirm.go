package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"heraldbot/internal/services/announce"
	kit "heraldbot/internal/transport"
	logx "heraldbot/pkg/logx"
	"heraldbot/pkg/tgui"
)

// ConfirmHub implements announce.Confirmer over inline keyboards: it posts
// a prompt to the requesting chat and waits for an owner to press a button
// or for the confirmation window to run out.
type ConfirmHub struct {
	adapter kit.Adapter
	log     logx.Logger

	mu      sync.Mutex
	pending map[string]chan announce.Decision
}

func NewConfirmHub(adapter kit.Adapter, log logx.Logger) *ConfirmHub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ConfirmHub{adapter: adapter, log: log, pending: map[string]chan announce.Decision{}}
}

func (h *ConfirmHub) Confirm(ctx context.Context, req announce.ConfirmRequest) (announce.Decision, error) {
	token := randomToken()
	ch := make(chan announce.Decision, 1)

	h.mu.Lock()
	h.pending[token] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, token)
		h.mu.Unlock()
	}()

	markup := tgui.ConfirmInline(
		tgui.Btn("✅ Send", tgui.Data("announce", "yes", token)),
		tgui.Btn("❌ Cancel", tgui.Data("announce", "no", token)),
	).Markup()

	text := fmt.Sprintf("⚠️ %s\n\n%s\n\n%s",
		tgui.B(fmt.Sprintf("Announcement to %d recipients", req.Recipients)),
		tgui.I(tgui.TruncRunes(req.Preview, 200)),
		tgui.Esc("Send it?"))

	ref, err := h.adapter.SendText(ctx, kit.ChatTarget{ChatID: req.ChatID}, text, &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyMarkupAdapter: markup,
	})
	if err != nil {
		return announce.DecisionDeclined, err
	}

	select {
	case d := <-ch:
		h.settlePrompt(ref, d)
		return d, nil
	case <-ctx.Done():
		h.settlePrompt(ref, announce.DecisionTimedOut)
		return announce.DecisionTimedOut, ctx.Err()
	}
}

// Resolve answers a pending prompt. Returns false for unknown or already
// settled tokens (stale button presses).
func (h *ConfirmHub) Resolve(token string, confirmed bool) bool {
	h.mu.Lock()
	ch := h.pending[token]
	delete(h.pending, token)
	h.mu.Unlock()
	if ch == nil {
		return false
	}
	d := announce.DecisionDeclined
	if confirmed {
		d = announce.DecisionConfirmed
	}
	ch <- d
	return true
}

// settlePrompt replaces the prompt (and its buttons) with the outcome.
func (h *ConfirmHub) settlePrompt(ref kit.MessageRef, d announce.Decision) {
	var text string
	switch d {
	case announce.DecisionConfirmed:
		text = "✅ Confirmed, sending."
	case announce.DecisionTimedOut:
		text = "⌛ Confirmation timed out; announcement aborted."
	default:
		text = "❌ Announcement cancelled."
	}
	ectx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.adapter.EditText(ectx, ref, text, nil); err != nil {
		h.log.Debug("confirm prompt edit failed", logx.Any("err", err))
	}
}

func randomToken() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
