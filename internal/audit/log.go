// Package audit writes operational audit lines for staff actions. This is
// the ops trail for the humans running the service; the per-warranty
// ClaimEvent history remains the business system of record.
package audit

import (
	"context"
	"errors"
	"strings"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/staffauth"
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

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{"event": event}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := staffauth.PrincipalFromContext(ctx); ok {
		entry["actor_id"] = p.ActorID
		entry["tenant_id"] = p.TenantID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	obs.Emit("audit", entry)
	return nil
}
