package tgui

import "testing"

func TestDataAndSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		data    string
		scope   string
		action  string
		payload string
	}{
		{"announce:yes:tok123", "announce", "yes", "tok123"},
		{"announce:no", "announce", "no", ""},
		{"announce:yes:a:b:c", "announce", "yes", "a:b:c"},
		{"bare", "bare", "", ""},
	}
	for _, tt := range tests {
		scope, action, payload := Split(tt.data)
		if scope != tt.scope || action != tt.action || payload != tt.payload {
			t.Fatalf("Split(%q) = %q,%q,%q", tt.data, scope, action, payload)
		}
	}
	if got := Data("announce", "yes", "tok123"); got != "announce:yes:tok123" {
		t.Fatalf("Data = %q", got)
	}
	if got := Data("announce", "no", ""); got != "announce:no" {
		t.Fatalf("Data = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("hello", 10); got != "hello" {
		t.Fatalf("no-op trunc = %q", got)
	}
	if got := TruncRunes("hello", 3); got != "hel…" {
		t.Fatalf("trunc = %q", got)
	}
	if got := TruncRunes("héllo", 2); got != "hé…" {
		t.Fatalf("multibyte trunc = %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("zero trunc = %q", got)
	}
}
