package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// accessLogFormatter writes one slog line per request for middleware.RequestLogger.
// Only the path is logged; the login callback's query carries the authorization code and state.
type accessLogFormatter struct{}

func (accessLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &accessLogEntry{attrs: []any{
		"method", r.Method,
		"path", r.URL.Path,
		"proto", r.Proto,
		"ip", r.RemoteAddr,
		"request_id", middleware.GetReqID(r.Context()),
	}}
}

type accessLogEntry struct {
	attrs []any
}

func (e *accessLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	slog.Info("request", append(e.attrs, "status", status, "bytes", bytes, "duration", elapsed)...)
}

func (e *accessLogEntry) Panic(v any, stack []byte) {
	slog.Error("request panic", append(e.attrs, "panic", v, "stack", string(stack))...)
}
