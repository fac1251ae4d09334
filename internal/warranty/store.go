package warranty

import "context"

// ListFilter narrows ListWarranties results. Status filtering understands the
// derived expired state: StatusExpired matches active rows past their expiry
// and StatusActive matches only rows still inside the window.
type ListFilter struct {
	Status        Status
	CustomerPhone string
	Skip          int
	Limit         int
}

// TransitionUpdate is the record-side effect of a transition: the new status
// and, for claim intake, the refined customer contact snapshot.
type TransitionUpdate struct {
	To       Status
	Customer *CustomerContact
}

// CustomerContact is the customer snapshot captured at registration and
// refined at claim time.
type CustomerContact struct {
	Name  string
	Phone string
	Email string
}

// Store is the durable record storage for warranties and their append-only
// event history. Every status write travels through ApplyTransition so no
// code path can move a warranty without recording why.
type Store interface {
	// CreateWarranty persists a new record together with its registration
	// event in one unit of work. The event receives sequence 1.
	CreateWarranty(ctx context.Context, w *Warranty, registered ClaimEvent) error

	// GetWarranty loads one record scoped to a tenant. Cross-tenant access
	// returns ErrNotFound so existence is never confirmed.
	GetWarranty(ctx context.Context, tenantID, id string) (Warranty, error)

	// ListWarranties returns a page of records plus the unpaged total.
	ListWarranties(ctx context.Context, tenantID string, f ListFilter) ([]Warranty, int, error)

	// CountByStatus returns per-status totals for the dashboard, with the
	// derived expired bucket split out of active.
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error)

	// ApplyTransition performs the compare-and-swap on version, writes the
	// new status (plus any customer snapshot refinement) and appends the
	// event in the same unit of work. A version mismatch yields ErrConflict;
	// both writes commit or neither does.
	ApplyTransition(ctx context.Context, tenantID, id string, fromVersion int64, upd TransitionUpdate, ev ClaimEvent) (Warranty, ClaimEvent, error)

	// AppendEvent appends a non-transition event (e.g. a financial
	// transaction record) assigning the next sequence.
	AppendEvent(ctx context.Context, ev ClaimEvent) (ClaimEvent, error)

	// Events returns the ordered history after the given sequence.
	Events(ctx context.Context, tenantID, id string, afterSeq int64, limit int) ([]ClaimEvent, error)
}
