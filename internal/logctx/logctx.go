package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with request and authentication data carried
// in the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if ad, ok := ctx.Value(authDataKey{}).(*AuthData); ok {
		attrs := []any{slog.String("backend", ad.Backend)}
		if ad.UserID != "" {
			attrs = append(attrs, slog.String("user_id", ad.UserID))
		}
		r.AddAttrs(slog.Group("auth", attrs...))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// Wrap returns a logger whose handler is decorated by Handler. Wrapping an
// already wrapped logger is a no-op.
func Wrap(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type authDataKey struct{}

type AuthData struct {
	Backend string
	UserID  string
}

func WithAuthData(ctx context.Context, data *AuthData) context.Context {
	return context.WithValue(ctx, authDataKey{}, data)
}
