// Package logring keeps the most recent log lines in memory so
// operators can pull them up with /logs without shell access.
package logring

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one retained log line.
type Entry struct {
	At       time.Time
	Severity string
	Message  string
}

// Ring is a fixed-capacity ring buffer of log entries. It implements
// zerolog.LevelWriter so it can sit in the logx sink fanout; writes
// never block and never fail.
type Ring struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
}

const defaultCapacity = 200

func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

func (r *Ring) Write(p []byte) (int, error) {
	return r.WriteLevel(zerolog.InfoLevel, p)
}

func (r *Ring) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	msg := extractMessage(p)
	if msg == "" {
		return len(p), nil
	}
	r.mu.Lock()
	r.buf[r.next] = Entry{At: time.Now(), Severity: level.String(), Message: msg}
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

// Snapshot returns retained entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.buf[:r.next]...)
	}
	out := make([]Entry, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Tail returns the most recent n entries, oldest first.
func (r *Ring) Tail(n int) []Entry {
	all := r.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// extractMessage pulls the human part out of a zerolog JSON line,
// falling back to the raw line when it isn't JSON.
func extractMessage(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return strings.TrimSpace(string(p))
	}
	msg, _ := m["message"].(string)
	var b strings.Builder
	b.WriteString(msg)
	for k, v := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		switch vv := v.(type) {
		case string:
			b.WriteString(vv)
		default:
			j, _ := json.Marshal(v)
			b.Write(j)
		}
	}
	return strings.TrimSpace(b.String())
}
