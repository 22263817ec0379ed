package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"orgauth.dev/internal/auth"
	"orgauth.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the identifier stored by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// LogEvent writes a security event (login outcome, logout, denial) to the
// shared logger, tagged with the request id and the authenticated principal.
// Durable audit rows are written by the services inside their transactions.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestID(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if p, ok := auth.PrincipalFrom(ctx); ok {
		zf = append(zf, zap.String("principal_id", p.ID), zap.String("principal_kind", string(p.Kind)))
	}
	if fields == nil {
		fields = map[string]any{}
	}
	zf = append(zf, zap.Any("fields", fields))
	obs.Logger().Info("audit", zf...)
	return nil
}
