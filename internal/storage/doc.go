package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Chat member registry (recipients for announcements)
//   - Announcement job audit appends
//   - Per-recipient delivery failure appends
