// Package tgui contains small helpers for building Telegram UI:
// inline keyboards, callback data packing and HTML-safe text.
package tgui
