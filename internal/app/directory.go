package app

import (
	"context"
	"sync"
	"time"

	"heraldbot/internal/storage"
	kit "heraldbot/internal/transport"
)

// directory is the recipient registry. The bot cannot enumerate group
// members through the Bot API, so it records every member it sees posting
// and announces to those. With storage enabled the registry survives
// restarts; without it the in-memory view alone serves lookups.
type directory struct {
	store storage.Store

	mu  sync.Mutex
	mem map[int64]map[int64]kit.Recipient // chatID -> userID
}

func newDirectory(store storage.Store) *directory {
	return &directory{store: store, mem: map[int64]map[int64]kit.Recipient{}}
}

// Note records one seen group member. Best-effort; storage errors are
// swallowed because the in-memory view still has the member.
func (d *directory) Note(ctx context.Context, m *kit.Message) {
	if m == nil || !m.IsGroup || m.FromID == 0 {
		return
	}
	r := kit.Recipient{UserID: m.FromID, Username: m.FromUsername}

	d.mu.Lock()
	chat := d.mem[m.ChatID]
	if chat == nil {
		chat = map[int64]kit.Recipient{}
		d.mem[m.ChatID] = chat
	}
	chat[m.FromID] = r
	d.mu.Unlock()

	if d.store != nil {
		_ = d.store.UpsertMember(ctx, storage.Member{
			ChatID:   m.ChatID,
			UserID:   m.FromID,
			Username: m.FromUsername,
			SeenAt:   time.Now(),
		})
	}
}

func (d *directory) Members(ctx context.Context, chatID int64) ([]kit.Recipient, error) {
	if d.store != nil {
		ms, err := d.store.Members(ctx, chatID)
		if err != nil {
			return nil, err
		}
		out := make([]kit.Recipient, 0, len(ms))
		for _, m := range ms {
			out = append(out, kit.Recipient{UserID: m.UserID, Username: m.Username})
		}
		return out, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	chat := d.mem[chatID]
	out := make([]kit.Recipient, 0, len(chat))
	for _, r := range chat {
		out = append(out, r)
	}
	return out, nil
}
