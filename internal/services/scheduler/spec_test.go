package scheduler

import (
	"testing"

	"github.com/robfig/cron/v3"
)

func TestNormalizeSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "five field cron", in: "*/5 * * * *", want: "*/5 * * * *"},
		{name: "six field cron", in: "0 30 9 * * 1", want: "0 30 9 * * 1"},
		{name: "macro", in: "@daily", want: "@daily"},
		{name: "every macro", in: "@every 2h", want: "@every 2h"},
		{name: "plain duration", in: "12h", want: "@every 12h"},
		{name: "compound duration", in: "1h30m", want: "@every 1h30m"},
		{name: "whitespace trimmed", in: "  @weekly  ", want: "@weekly"},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "soonish", wantErr: true},
		{name: "zero duration", in: "0s", wantErr: true},
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeSpec(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSpec(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSpec(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeSpec(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Every normalized spec must be accepted by the cron parser.
			if _, err := parser.Parse(got); err != nil {
				t.Fatalf("parser rejects %q: %v", got, err)
			}
		})
	}
}
