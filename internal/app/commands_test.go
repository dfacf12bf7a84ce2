package app

import (
	"testing"

	"heraldbot/internal/dispatch"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		cmd  string
		args []string
	}{
		{"/ping", "ping", nil},
		{"/announce hello world", "announce", []string{"hello", "world"}},
		{"/announce@heraldbot --anon hi", "announce", []string{"--anon", "hi"}},
		{"/STATUS an:1", "status", []string{"an:1"}},
		{"   ", "", nil},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd {
			t.Errorf("splitCommand(%q) cmd = %q, want %q", tt.in, cmd, tt.cmd)
		}
		if len(args) != len(tt.args) {
			t.Errorf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.args)
			continue
		}
		for i := range args {
			if args[i] != tt.args[i] {
				t.Errorf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.args)
				break
			}
		}
	}
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		chat   int64
		thread int
		ok     bool
	}{
		{"-1001234567890", -1001234567890, 0, true},
		{"-100123:42", -100123, 42, true},
		{"", 0, 0, false},
		{"abc", 0, 0, false},
		{"0", 0, 0, false},
		{"-100123:x", 0, 0, false},
	}
	for _, tt := range tests {
		chat, thread, ok := parseGroupLog(tt.in)
		if chat != tt.chat || thread != tt.thread || ok != tt.ok {
			t.Errorf("parseGroupLog(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.in, chat, thread, ok, tt.chat, tt.thread, tt.ok)
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		res  dispatch.Result
		want string
	}{
		{
			name: "all delivered",
			res:  dispatch.Result{Success: 10, Total: 10, Status: dispatch.StatusCompleted},
			want: "✅ Announcement delivered to all 10 members.",
		},
		{
			name: "partial failures",
			res:  dispatch.Result{Success: 7, Fail: 3, Total: 10, Status: dispatch.StatusCompleted},
			want: "✅ Announcement finished: 7 delivered, 3 unreachable.",
		},
		{
			name: "declined before start",
			res:  dispatch.Result{Pending: 60, Total: 60, Status: dispatch.StatusCanceled},
			want: "❌ Announcement cancelled; nothing was sent.",
		},
		{
			name: "canceled mid-job",
			res:  dispatch.Result{Success: 18, Fail: 2, Pending: 30, Total: 50, Status: dispatch.StatusCanceled},
			want: "🛑 Announcement cancelled: 18 delivered, 2 failed, 30 never attempted.",
		},
		{
			name: "confirm timeout",
			res:  dispatch.Result{Pending: 60, Total: 60, Status: dispatch.StatusConfirmTimeout},
			want: "⌛ Confirmation timed out; nothing was sent.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := summarize(tt.res); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
