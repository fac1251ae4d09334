package warranty

import (
	"errors"
	"fmt"
	"time"
)

// Status is the stored lifecycle state of a warranty. Expiry is derived and
// never persisted: an active warranty past its expiry date reports
// StatusExpired from EffectiveStatus while the row keeps StatusActive.
type Status string

const (
	StatusActive             Status = "active"
	StatusExpired            Status = "expired" // derived only
	StatusClaimed            Status = "claimed"
	StatusUnderInspection    Status = "under_inspection"
	StatusReplacementPending Status = "replacement_pending"
	StatusReplaced           Status = "replaced"
	StatusRefunded           Status = "refunded"
	StatusDeclined           Status = "declined"
	StatusClosed             Status = "closed"
)

// IsTerminal reports whether no further business transition is defined.
func (s Status) IsTerminal() bool {
	return s == StatusReplaced || s == StatusRefunded || s == StatusClosed
}

// EventType enumerates entries of the append-only claim history.
type EventType string

const (
	EventRegistered           EventType = "registered"
	EventClaimRegistered      EventType = "claim_registered"
	EventInspectionStarted    EventType = "inspection_started"
	EventInspectionCompleted  EventType = "inspection_completed"
	EventSupplierActionTaken  EventType = "supplier_action_recorded"
	EventStatusChanged        EventType = "status_changed"
	EventFinancialTransaction EventType = "financial_transaction"
)

// ActorType identifies which actor class performed an action.
type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorStaff    ActorType = "staff"
	ActorSystem   ActorType = "system"
)

// InspectionOutcome is the explicit fault attribution supplied by the
// inspector. The engine never infers an outcome from free text.
type InspectionOutcome string

const (
	OutcomeCustomerFault InspectionOutcome = "customer_fault"
	OutcomeCovered       InspectionOutcome = "covered"
	OutcomeSupplierFault InspectionOutcome = "supplier_fault"
)

// SupplierAction enumerates vendor-side remediation actions on a declined
// warranty.
type SupplierAction string

const (
	SupplierReplacementSent   SupplierAction = "replacement_sent"
	SupplierRepairSent        SupplierAction = "repair_sent"
	SupplierCashRefundOffered SupplierAction = "cash_refund_offered"
	SupplierPartialRefund     SupplierAction = "partial_refund"
	SupplierDeclined          SupplierAction = "declined"
)

// Warranty tracks coverage for one purchased unit. Owned by the store and
// mutated only through state-machine validated transitions.
type Warranty struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Code          string    `json:"code"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	SerialNumber  string    `json:"serial_number,omitempty"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	PurchaseDate  time.Time `json:"purchase_date"`
	PeriodMonths  int       `json:"period_months"`
	ExpiryDate    time.Time `json:"expiry_date"`
	SupplierName  string    `json:"supplier_name,omitempty"`
	Status        Status    `json:"status"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EffectiveStatus folds the wall clock into the stored status.
func (w Warranty) EffectiveStatus(now time.Time) Status {
	if w.Status == StatusActive && now.After(w.ExpiryDate) {
		return StatusExpired
	}
	return w.Status
}

// CanClaim reports whether the customer may submit a regular claim.
func (w Warranty) CanClaim(now time.Time) bool {
	return w.Status == StatusActive && !now.After(w.ExpiryDate)
}

// CanRequestManualReview reports whether an out-of-window claim may be routed
// to manual review instead.
func (w Warranty) CanRequestManualReview(now time.Time) bool {
	return w.Status == StatusActive && now.After(w.ExpiryDate)
}

// ExpiryFor computes the calendar-correct expiry date.
func ExpiryFor(purchase time.Time, months int) time.Time {
	return purchase.AddDate(0, months, 0)
}

// ClaimEvent is one entry of the per-warranty append-only history. Rows are
// created once and never mutated; Sequence ordering is the source of truth
// for history reconstruction.
type ClaimEvent struct {
	ID          string            `json:"id"`
	WarrantyID  string            `json:"warranty_id"`
	TenantID    string            `json:"tenant_id"`
	Sequence    int64             `json:"sequence"`
	EventType   EventType         `json:"event_type"`
	ActorType   ActorType         `json:"actor_type"`
	ActorID     string            `json:"actor_id,omitempty"`
	Note        string            `json:"note,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

var (
	ErrNotFound          = errors.New("warranty: not found")
	ErrConflict          = errors.New("warranty: version conflict")
	ErrCodeTaken         = errors.New("warranty: code already in use")
	ErrInvalidTransition = errors.New("warranty: invalid transition")
	ErrValidation        = errors.New("warranty: validation failed")
)

// TransitionError is returned when a guard fails; it carries the current
// status so the caller can reconcile its view.
type TransitionError struct {
	Current Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("warranty: invalid transition %q from status %q", e.Trigger, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError reports malformed input with field context.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("warranty: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
