package warranty

import (
	"context"
	"strconv"
	"strings"
	"time"

	"warrantly.org/internal/ids"
	"warrantly.org/internal/obs"
)

const (
	maxAttachments     = 5
	minDescriptionLen  = 10
	minResultTextLen   = 10
	codeCreateAttempts = 3
)

// Notifier receives lifecycle changes after a successful commit. Calls are
// fire-and-forget: the engine never awaits delivery inside the transition's
// atomic section.
type Notifier interface {
	LifecycleChanged(ctx context.Context, w Warranty, ev ClaimEvent)
}

// Engine funnels every warranty mutation through the state machine and the
// append-only event history. It enforces guards and validation only;
// authenticating callers is the transport layer's concern.
type Engine struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithNotifier attaches a post-commit lifecycle notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine constructs an Engine over the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterInput carries the registration payload captured at sale time.
type RegisterInput struct {
	TenantID      string
	ProductID     string
	ProductName   string
	SerialNumber  string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	PurchaseDate  time.Time
	PeriodMonths  int
	SupplierName  string
	ActorID       string
}

// Register creates a warranty at sale time together with its first history
// event.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (Warranty, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return Warranty{}, invalidField("tenant_id", "required")
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return Warranty{}, invalidField("product_id", "required")
	}
	if strings.TrimSpace(in.ProductName) == "" {
		return Warranty{}, invalidField("product_name", "required")
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return Warranty{}, invalidField("customer_name", "required")
	}
	if strings.TrimSpace(in.CustomerPhone) == "" {
		return Warranty{}, invalidField("customer_phone", "required")
	}
	if in.PurchaseDate.IsZero() {
		return Warranty{}, invalidField("purchase_date", "required")
	}
	if in.PeriodMonths < 1 || in.PeriodMonths > 120 {
		return Warranty{}, invalidField("warranty_period_months", "must be between 1 and 120")
	}

	now := e.now().UTC()
	w := Warranty{
		ID:            ids.NewUUID(),
		TenantID:      in.TenantID,
		ProductID:     in.ProductID,
		ProductName:   strings.TrimSpace(in.ProductName),
		SerialNumber:  strings.TrimSpace(in.SerialNumber),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		PurchaseDate:  in.PurchaseDate,
		PeriodMonths:  in.PeriodMonths,
		ExpiryDate:    ExpiryFor(in.PurchaseDate, in.PeriodMonths),
		SupplierName:  strings.TrimSpace(in.SupplierName),
		Status:        StatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ev := ClaimEvent{
		ID:         ids.NewUUID(),
		WarrantyID: w.ID,
		TenantID:   w.TenantID,
		EventType:  EventRegistered,
		ActorType:  ActorStaff,
		ActorID:    in.ActorID,
		Meta: map[string]string{
			"product_id":    in.ProductID,
			"period_months": strconv.Itoa(in.PeriodMonths),
		},
		CreatedAt: now,
	}

	// Codes collide rarely; retry a couple of times before giving up.
	var err error
	for i := 0; i < codeCreateAttempts; i++ {
		w.Code = ids.NewCode("WTY")
		if err = e.store.CreateWarranty(ctx, &w, ev); err != ErrCodeTaken {
			break
		}
	}
	if err != nil {
		return Warranty{}, err
	}
	return w, nil
}

// ClaimInput is the customer-submitted claim payload. Attachment storage is
// delegated upstream; only the returned URLs are persisted.
type ClaimInput struct {
	TenantID        string
	WarrantyID      string
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	Description     string
	Attachments     []string
	PreferredAction string
}

// ClaimResult references the recorded claim for customer-side tracking.
type ClaimResult struct {
	EventID      string `json:"claim_event_id"`
	Sequence     int64  `json:"sequence"`
	Status       Status `json:"status"`
	ManualReview bool   `json:"manual_review"`
}

// SubmitClaim validates and records a customer claim, routing to submit_claim
// or request_manual_review depending on eligibility at call time. Submission
// is not idempotent at the business level: a second claim on an already
// claimed warranty fails with InvalidTransition.
func (e *Engine) SubmitClaim(ctx context.Context, in ClaimInput) (ClaimResult, error) {
	if strings.TrimSpace(in.CustomerName) == "" {
		return ClaimResult{}, invalidField("customer_name", "required")
	}
	if strings.TrimSpace(in.CustomerPhone) == "" {
		return ClaimResult{}, invalidField("customer_phone", "required")
	}
	if len(strings.TrimSpace(in.Description)) < minDescriptionLen {
		return ClaimResult{}, invalidField("issue_description", "must be at least 10 characters")
	}
	if len(in.Attachments) > maxAttachments {
		return ClaimResult{}, invalidField("attachments", "at most 5 attachments")
	}

	w, err := e.store.GetWarranty(ctx, in.TenantID, in.WarrantyID)
	if err != nil {
		return ClaimResult{}, err
	}

	now := e.now().UTC()
	trigger := TriggerSubmitClaim
	if w.CanRequestManualReview(now) {
		trigger = TriggerRequestManualReview
	}
	to, err := Next(w, trigger, "", now)
	if err != nil {
		return ClaimResult{}, err
	}

	meta := map[string]string{
		"issue_description": strings.TrimSpace(in.Description),
		"trigger":           string(trigger),
	}
	if in.PreferredAction != "" {
		meta["preferred_action"] = in.PreferredAction
	}

	ev := ClaimEvent{
		ID:          ids.NewUUID(),
		WarrantyID:  w.ID,
		TenantID:    w.TenantID,
		EventType:   EventClaimRegistered,
		ActorType:   ActorCustomer,
		Note:        strings.TrimSpace(in.Description),
		Meta:        meta,
		Attachments: in.Attachments,
		CreatedAt:   now,
	}
	upd := TransitionUpdate{
		To: to,
		Customer: &CustomerContact{
			Name:  strings.TrimSpace(in.CustomerName),
			Phone: strings.TrimSpace(in.CustomerPhone),
			Email: strings.TrimSpace(in.CustomerEmail),
		},
	}

	updated, appended, err := e.store.ApplyTransition(ctx, w.TenantID, w.ID, w.Version, upd, ev)
	if err != nil {
		return ClaimResult{}, err
	}
	e.notify(ctx, updated, appended)

	return ClaimResult{
		EventID:      appended.ID,
		Sequence:     appended.Sequence,
		Status:       updated.Status,
		ManualReview: trigger == TriggerRequestManualReview,
	}, nil
}

// StartInspection moves a claimed warranty into inspection.
func (e *Engine) StartInspection(ctx context.Context, tenantID, id, actorID string) (Warranty, error) {
	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return Warranty{}, err
	}
	now := e.now().UTC()
	to, err := Next(w, TriggerStartInspection, "", now)
	if err != nil {
		return Warranty{}, err
	}
	ev := ClaimEvent{
		ID:         ids.NewUUID(),
		WarrantyID: w.ID,
		TenantID:   w.TenantID,
		EventType:  EventInspectionStarted,
		ActorType:  ActorStaff,
		ActorID:    actorID,
		CreatedAt:  now,
	}
	updated, appended, err := e.store.ApplyTransition(ctx, tenantID, id, w.Version, TransitionUpdate{To: to}, ev)
	if err != nil {
		return Warranty{}, err
	}
	e.notify(ctx, updated, appended)
	return updated, nil
}

// InspectionInput carries the inspector's explicit decision. The outcome is
// an enumerated value; the engine never infers it from the result text.
type InspectionInput struct {
	Outcome       InspectionOutcome
	ResultText    string
	Notes         string
	EstimatedCost int64
}

// CompleteInspection records the inspection result and drives the matching
// transition: customer_fault closes, covered queues a replacement,
// supplier_fault declines for supplier escalation.
func (e *Engine) CompleteInspection(ctx context.Context, tenantID, id, actorID string, in InspectionInput) (Warranty, error) {
	switch in.Outcome {
	case OutcomeCustomerFault, OutcomeCovered, OutcomeSupplierFault:
	default:
		return Warranty{}, invalidField("outcome", "must be customer_fault, covered or supplier_fault")
	}
	if len(strings.TrimSpace(in.ResultText)) < minResultTextLen {
		return Warranty{}, invalidField("result_text", "must be at least 10 characters")
	}
	if in.EstimatedCost < 0 {
		return Warranty{}, invalidField("estimated_cost", "must be >= 0")
	}

	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return Warranty{}, err
	}
	now := e.now().UTC()
	to, err := Next(w, TriggerCompleteInspection, string(in.Outcome), now)
	if err != nil {
		return Warranty{}, err
	}

	meta := map[string]string{
		"outcome":     string(in.Outcome),
		"result_text": strings.TrimSpace(in.ResultText),
	}
	if in.Notes != "" {
		meta["notes"] = in.Notes
	}
	if in.EstimatedCost > 0 {
		meta["estimated_cost"] = strconv.FormatInt(in.EstimatedCost, 10)
	}

	ev := ClaimEvent{
		ID:         ids.NewUUID(),
		WarrantyID: w.ID,
		TenantID:   w.TenantID,
		EventType:  EventInspectionCompleted,
		ActorType:  ActorStaff,
		ActorID:    actorID,
		Note:       strings.TrimSpace(in.ResultText),
		Meta:       meta,
		CreatedAt:  now,
	}
	updated, appended, err := e.store.ApplyTransition(ctx, tenantID, id, w.Version, TransitionUpdate{To: to}, ev)
	if err != nil {
		return Warranty{}, err
	}
	e.notify(ctx, updated, appended)
	return updated, nil
}

// SupplierActionInput carries a vendor-side remediation on a declined
// warranty. AmountMinor is in minor currency units and applies to refunds.
type SupplierActionInput struct {
	Action        SupplierAction
	Details       string
	Notes         string
	ReplacementSN string
	AmountMinor   int64
}

// RecordSupplierAction records the supplier action and drives the
// declined -> {replacement_pending, refunded, closed} transition. Refund
// actions additionally append a financial_transaction event after commit.
func (e *Engine) RecordSupplierAction(ctx context.Context, tenantID, id, actorID string, in SupplierActionInput) (Warranty, error) {
	switch in.Action {
	case SupplierReplacementSent, SupplierRepairSent, SupplierCashRefundOffered,
		SupplierPartialRefund, SupplierDeclined:
	default:
		return Warranty{}, invalidField("action_type", "unknown supplier action")
	}
	if in.AmountMinor < 0 {
		return Warranty{}, invalidField("amount", "must be >= 0")
	}
	refund := in.Action == SupplierCashRefundOffered || in.Action == SupplierPartialRefund
	if refund && in.AmountMinor == 0 {
		return Warranty{}, invalidField("amount", "required for refund actions")
	}

	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return Warranty{}, err
	}
	now := e.now().UTC()
	to, err := Next(w, TriggerSupplierAction, string(in.Action), now)
	if err != nil {
		return Warranty{}, err
	}

	meta := map[string]string{"action_type": string(in.Action)}
	if in.Details != "" {
		meta["action_details"] = in.Details
	}
	if in.Notes != "" {
		meta["notes"] = in.Notes
	}
	if in.ReplacementSN != "" {
		meta["replacement_serial"] = in.ReplacementSN
	}
	if in.AmountMinor > 0 {
		meta["amount_minor"] = strconv.FormatInt(in.AmountMinor, 10)
	}

	ev := ClaimEvent{
		ID:         ids.NewUUID(),
		WarrantyID: w.ID,
		TenantID:   w.TenantID,
		EventType:  EventSupplierActionTaken,
		ActorType:  ActorStaff,
		ActorID:    actorID,
		Note:       in.Notes,
		Meta:       meta,
		CreatedAt:  now,
	}
	updated, appended, err := e.store.ApplyTransition(ctx, tenantID, id, w.Version, TransitionUpdate{To: to}, ev)
	if err != nil {
		return Warranty{}, err
	}
	e.notify(ctx, updated, appended)

	if refund {
		fin := ClaimEvent{
			ID:         ids.NewUUID(),
			WarrantyID: w.ID,
			TenantID:   w.TenantID,
			EventType:  EventFinancialTransaction,
			ActorType:  ActorSystem,
			Meta: map[string]string{
				"kind":         "refund",
				"amount_minor": strconv.FormatInt(in.AmountMinor, 10),
				"action_type":  string(in.Action),
			},
			CreatedAt: e.now().UTC(),
		}
		// The transition already committed; a failed financial record goes to
		// the operators, never back to the caller as a transition failure.
		if _, err := e.store.AppendEvent(ctx, fin); err != nil {
			obs.Emit("error", map[string]any{
				"msg":         "financial event append failed",
				"warranty_id": w.ID,
				"error":       err.Error(),
			})
		}
	}
	return updated, nil
}

// MarkResolved confirms delivery of a pending replacement, moving the
// warranty to its terminal replaced state.
func (e *Engine) MarkResolved(ctx context.Context, tenantID, id, actorID string) (Warranty, error) {
	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return Warranty{}, err
	}
	now := e.now().UTC()
	to, err := Next(w, TriggerMarkResolved, "", now)
	if err != nil {
		return Warranty{}, err
	}
	ev := ClaimEvent{
		ID:         ids.NewUUID(),
		WarrantyID: w.ID,
		TenantID:   w.TenantID,
		EventType:  EventStatusChanged,
		ActorType:  ActorStaff,
		ActorID:    actorID,
		Meta:       map[string]string{"to": string(to)},
		CreatedAt:  now,
	}
	updated, appended, err := e.store.ApplyTransition(ctx, tenantID, id, w.Version, TransitionUpdate{To: to}, ev)
	if err != nil {
		return Warranty{}, err
	}
	e.notify(ctx, updated, appended)
	return updated, nil
}

// Get returns the warranty with one page of its ordered history. afterSeq
// skips events up to and including that sequence; limit is capped at 500 per
// call and defaults to 500 when zero, so callers page long histories by
// passing the last sequence they saw.
func (e *Engine) Get(ctx context.Context, tenantID, id string, afterSeq int64, limit int) (Warranty, []ClaimEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return Warranty{}, nil, err
	}
	events, err := e.store.Events(ctx, tenantID, id, afterSeq, limit)
	if err != nil {
		return Warranty{}, nil, err
	}
	return w, events, nil
}

// List returns a filtered page of warranties plus the unpaged total.
func (e *Engine) List(ctx context.Context, tenantID string, f ListFilter) ([]Warranty, int, error) {
	return e.store.ListWarranties(ctx, tenantID, f)
}

// Stats returns per-status counts with derived expiry applied.
func (e *Engine) Stats(ctx context.Context, tenantID string) (map[Status]int, error) {
	return e.store.CountByStatus(ctx, tenantID)
}

// PublicView is the reduced projection served on the anonymous resolve path.
// It exposes nothing beyond what the customer already possesses.
type PublicView struct {
	WarrantyCode           string    `json:"warranty_code"`
	ProductName            string    `json:"product_name"`
	SerialNumber           string    `json:"serial_number,omitempty"`
	PurchaseDate           time.Time `json:"purchase_date"`
	ExpiryDate             time.Time `json:"expiry_date"`
	Status                 Status    `json:"status"`
	CanClaim               bool      `json:"can_claim"`
	CanRequestManualReview bool      `json:"can_request_manual_review"`
	CustomerName           string    `json:"customer_name"`
}

// Resolve builds the public projection for a verified resolution token.
func (e *Engine) Resolve(ctx context.Context, tenantID, id string) (PublicView, error) {
	w, err := e.store.GetWarranty(ctx, tenantID, id)
	if err != nil {
		return PublicView{}, err
	}
	now := e.now().UTC()
	return PublicView{
		WarrantyCode:           w.Code,
		ProductName:            w.ProductName,
		SerialNumber:           maskSerial(w.SerialNumber),
		PurchaseDate:           w.PurchaseDate,
		ExpiryDate:             w.ExpiryDate,
		Status:                 w.EffectiveStatus(now),
		CanClaim:               w.CanClaim(now),
		CanRequestManualReview: w.CanRequestManualReview(now),
		CustomerName:           w.CustomerName,
	}, nil
}

func (e *Engine) notify(ctx context.Context, w Warranty, ev ClaimEvent) {
	if e.notifier == nil {
		return
	}
	go e.notifier.LifecycleChanged(context.WithoutCancel(ctx), w, ev)
}

func maskSerial(sn string) string {
	if sn == "" {
		return ""
	}
	if len(sn) <= 4 {
		return sn
	}
	return strings.Repeat("*", len(sn)-4) + sn[len(sn)-4:]
}
