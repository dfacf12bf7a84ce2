package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// This is the length of the full string: "scope:action:payload".
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "scope:action:payload".
// Payload is kept as-is (no escaping); keep it to short opaque tokens.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// Split parses callback data produced by Data. The payload part may itself
// contain colons; only the first two separators are significant.
func Split(data string) (scope, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}
