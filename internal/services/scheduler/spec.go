package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeSpec maps the accepted schedule forms onto robfig/cron syntax.
//
// Supported forms:
//   - Cron (5-field or 6-field with seconds): "*/5 * * * *", "0 30 9 * * 1"
//   - Cron macros: "@daily", "@weekly", "@every 2h"
//   - Plain Go duration: "12h" (becomes "@every 12h")
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	// Whitespace or a leading '@' means cron syntax already.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return s, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', a macro like '@daily', or a duration like '12h')", raw)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	return "@every " + s, nil
}
