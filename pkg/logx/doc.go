// Package logx wraps zerolog behind a small structured-logging facade.
//
// A single Service owns the root logger and its sinks (console, file,
// in-memory ring, Telegram forwarding) and can swap them at runtime via
// Apply(). Loggers handed out by the Service stay live across Apply()
// calls. The zero Logger value is a safe no-op.
package logx
