package announce

import (
	"sort"
	"time"
)

// pruneStatus keeps the status registry bounded. Announcements can be
// submitted frequently (scheduled jobs included) and keeping every status
// forever would steadily retain memory.
func (s *Service) pruneStatus(now time.Time) {
	s.mu.Lock()
	max := s.cfg.StatusMax
	ttl := s.cfg.StatusTTL
	s.mu.Unlock()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if len(s.status) == 0 {
		return
	}

	// Drop finished jobs older than TTL. Running jobs are never pruned.
	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		if st.Running || s.cancels[id] != nil {
			continue
		}
		reference := st.DoneAt
		if reference.IsZero() {
			reference = st.StartedAt
		}
		if !reference.IsZero() && now.Sub(reference) > ttl {
			delete(s.status, id)
		}
	}

	if len(s.status) <= max {
		return
	}

	// Still too big: drop oldest finished jobs first.
	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(s.status))
	for id, st := range s.status {
		if st == nil || st.Running || s.cancels[id] != nil {
			continue
		}
		t := st.DoneAt
		if t.IsZero() {
			t = st.StartedAt
		}
		items = append(items, kv{id: id, t: t})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(s.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(s.status, items[i].id)
	}
}
