package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/termdeck/schema"
)

type contextKey int

const (
	tabKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id unless the context already carries it.
func WithTab(ctx context.Context, tabID schema.TabID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithTabSession annotates the logger with tab and session identifiers.
func WithTabSession(ctx context.Context, tabID schema.TabID, sessionID schema.SessionID) pslog.Logger {
	log := WithTab(ctx, tabID)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// SessionLogger returns the logger carried by ctx when ctx is marked with
// sessionID, and fallback annotated with the session id otherwise.
func SessionLogger(ctx context.Context, fallback pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if ctx != nil {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return pslog.Ctx(ctx)
		}
	}
	return WithSession(fallback, sessionID)
}

// WithConnection annotates the logger with the connection target.
func WithConnection(log pslog.Logger, cfg schema.ConnectionConfig) pslog.Logger {
	if cfg.Host != "" {
		log = log.With("host", cfg.Address())
	}
	if cfg.Username != "" {
		log = log.With("user", cfg.Username)
	}
	return log
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithTabSessionLogger attaches the logger and tab/session markers to the context.
func ContextWithTabSessionLogger(ctx context.Context, log pslog.Logger, tabID schema.TabID, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ContextWithTab(ctx, tabID), sessionID)
}
