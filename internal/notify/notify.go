// Package notify publishes committed lifecycle changes for delivery by an
// external notification channel. Publishing is fire-and-forget: a failed
// publish is logged, never surfaced to the transition that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/warranty"
)

// Event is the wire shape of a lifecycle notification.
type Event struct {
	WarrantyID   string    `json:"warranty_id"`
	TenantID     string    `json:"tenant_id"`
	WarrantyCode string    `json:"warranty_code"`
	EventType    string    `json:"event_type"`
	Status       string    `json:"status"`
	Sequence     int64     `json:"sequence"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func eventFor(w warranty.Warranty, ev warranty.ClaimEvent) Event {
	return Event{
		WarrantyID:   w.ID,
		TenantID:     w.TenantID,
		WarrantyCode: w.Code,
		EventType:    string(ev.EventType),
		Status:       string(w.Status),
		Sequence:     ev.Sequence,
		OccurredAt:   ev.CreatedAt,
	}
}

// Stdout logs lifecycle events as JSON lines. Used when no broker is
// configured.
type Stdout struct{}

var _ warranty.Notifier = Stdout{}

// LifecycleChanged implements warranty.Notifier.
func (Stdout) LifecycleChanged(ctx context.Context, w warranty.Warranty, ev warranty.ClaimEvent) {
	data, err := json.Marshal(eventFor(w, ev))
	if err != nil {
		return
	}
	obs.Emit("notify", map[string]any{"event": json.RawMessage(data)})
}
