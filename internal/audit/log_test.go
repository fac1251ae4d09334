package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/staffauth"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	t.Cleanup(func() { obs.Logger().SetOutput(os.Stdout) })
	return &buf
}

func TestLogEventWritesJSONLine(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = staffauth.ContextWithPrincipal(ctx, staffauth.Principal{
		ActorID:  "staff-1",
		TenantID: "t-1",
	})

	if err := LogEvent(ctx, "warranty.inspection_started", map[string]any{"warranty_id": "w-1"}); err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not a JSON line: %v (%q)", err, buf.String())
	}
	if entry["type"] != "audit" || entry["event"] != "warranty.inspection_started" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-42" {
		t.Fatalf("missing request id: %v", entry)
	}
	if entry["actor_id"] != "staff-1" || entry["tenant_id"] != "t-1" {
		t.Fatalf("missing principal: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["warranty_id"] != "w-1" {
		t.Fatalf("unexpected fields: %v", entry["fields"])
	}
}

func TestLogEventWithoutContext(t *testing.T) {
	buf := captureLog(t)

	if err := LogEvent(context.Background(), "warranty.registered", nil); err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("unexpected request id: %v", entry)
	}
	if _, ok := entry["actor_id"]; ok {
		t.Fatalf("unexpected actor: %v", entry)
	}
	if _, ok := entry["fields"].(map[string]any); !ok {
		t.Fatalf("fields should always be present: %v", entry)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
