package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/staffauth"
	"warrantly.org/internal/warranty"
)

type registerRequest struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	SerialNumber  string `json:"serial_number"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	PurchaseDate  string `json:"purchase_date"`
	PeriodMonths  int    `json:"warranty_period_months"`
	SupplierName  string `json:"supplier_name"`
}

type registerResponse struct {
	WarrantyID     string    `json:"warranty_id"`
	WarrantyCode   string    `json:"warranty_code"`
	ResolveToken   string    `json:"resolve_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

type inspectRequest struct {
	Outcome       string `json:"outcome"`
	ResultText    string `json:"result_text"`
	Notes         string `json:"notes"`
	EstimatedCost int64  `json:"estimated_cost_minor"`
}

type supplierActionRequest struct {
	ActionType        string `json:"action_type"`
	ActionDetails     string `json:"action_details"`
	Notes             string `json:"notes"`
	ReplacementSerial string `json:"replacement_serial"`
	AmountMinor       int64  `json:"amount_minor"`
}

type listResponse struct {
	Items []warranty.Warranty `json:"items"`
	Total int                 `json:"total"`
}

func (a *API) handleWarrantiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerWarranty(w, r)
	case http.MethodGet:
		a.listWarranties(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleWarrantyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/warranties/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch path {
	case "resolve":
		a.resolvePublic(w, r)
		return
	case "stats/dashboard":
		a.dashboardStats(w, r)
		return
	}

	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getWarranty(w, r, id)
	case "claim":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.submitClaim(w, r, id)
	case "inspection/start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.startInspection(w, r, id)
	case "inspect":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.completeInspection(w, r, id)
	case "supplier-action":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.recordSupplierAction(w, r, id)
	case "resolve-replacement":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markResolved(w, r, id)
	case "token":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.reissueToken(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) registerWarranty(w http.ResponseWriter, r *http.Request) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapRegister)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	purchase, err := parseDate(req.PurchaseDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "purchase_date must be YYYY-MM-DD or RFC3339")
		return
	}

	created, err := a.engine.Register(r.Context(), warranty.RegisterInput{
		TenantID:      principal.TenantID,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		SerialNumber:  req.SerialNumber,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		PurchaseDate:  purchase,
		PeriodMonths:  req.PeriodMonths,
		SupplierName:  req.SupplierName,
		ActorID:       principal.ActorID,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	resolveToken, tokenExp, err := a.tokens.Issue(created.ID, created.TenantID, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}

	obs.ObserveTransition(string(warranty.EventRegistered), string(created.Status))
	a.audit(r.Context(), "warranty.register", "warranty", created.ID, map[string]string{
		"code":       created.Code,
		"product_id": created.ProductID,
	})

	w.Header().Set("Location", "/v1/warranties/"+created.ID)
	writeJSON(w, http.StatusCreated, registerResponse{
		WarrantyID:     created.ID,
		WarrantyCode:   created.Code,
		ResolveToken:   resolveToken,
		TokenExpiresAt: tokenExp,
	})
}

func (a *API) getWarranty(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapRead)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	q := r.URL.Query()
	after, err := parseNonNegativeInt(q.Get("events_after"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "events_after must be a non-negative integer")
		return
	}
	limit, err := parseNonNegativeInt(q.Get("events_limit"), 500)
	if err != nil || limit == 0 || limit > 500 {
		writeError(w, r, http.StatusBadRequest, "events_limit must be between 1 and 500")
		return
	}

	rec, events, err := a.engine.Get(r.Context(), principal.TenantID, id, int64(after), limit)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	payload := map[string]any{
		"warranty": rec,
		"events":   events,
	}
	// A full page signals the caller to continue from the last sequence.
	if len(events) == limit {
		payload["events_next_after"] = events[len(events)-1].Sequence
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) listWarranties(w http.ResponseWriter, r *http.Request) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapRead)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	q := r.URL.Query()
	skip, err := parseNonNegativeInt(q.Get("skip"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := parseNonNegativeInt(q.Get("limit"), 50)
	if err != nil || limit > 200 {
		writeError(w, r, http.StatusBadRequest, "limit must be between 0 and 200")
		return
	}

	items, total, err := a.engine.List(r.Context(), principal.TenantID, warranty.ListFilter{
		Status:        warranty.Status(strings.TrimSpace(q.Get("status"))),
		CustomerPhone: strings.TrimSpace(q.Get("customer_phone")),
		Skip:          skip,
		Limit:         limit,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if items == nil {
		items = []warranty.Warranty{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (a *API) dashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, err := a.requireStaff(r.Context(), staffauth.CapRead)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	counts, err := a.engine.Stats(r.Context(), principal.TenantID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (a *API) startInspection(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapInspect)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	rec, err := a.engine.StartInspection(r.Context(), principal.TenantID, id, principal.ActorID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	obs.ObserveTransition(string(warranty.EventInspectionStarted), string(rec.Status))
	a.audit(r.Context(), "warranty.inspection.start", "warranty", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": rec.Status})
}

func (a *API) completeInspection(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapInspect)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	var req inspectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.engine.CompleteInspection(r.Context(), principal.TenantID, id, principal.ActorID, warranty.InspectionInput{
		Outcome:       warranty.InspectionOutcome(req.Outcome),
		ResultText:    req.ResultText,
		Notes:         req.Notes,
		EstimatedCost: req.EstimatedCost,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	obs.ObserveTransition(string(warranty.EventInspectionCompleted), string(rec.Status))
	a.audit(r.Context(), "warranty.inspection.complete", "warranty", id, map[string]string{
		"outcome": req.Outcome,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": rec.Status})
}

func (a *API) recordSupplierAction(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapSupplier)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	var req supplierActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.engine.RecordSupplierAction(r.Context(), principal.TenantID, id, principal.ActorID, warranty.SupplierActionInput{
		Action:        warranty.SupplierAction(req.ActionType),
		Details:       req.ActionDetails,
		Notes:         req.Notes,
		ReplacementSN: req.ReplacementSerial,
		AmountMinor:   req.AmountMinor,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	obs.ObserveTransition(string(warranty.EventSupplierActionTaken), string(rec.Status))
	a.audit(r.Context(), "warranty.supplier.action", "warranty", id, map[string]string{
		"action_type": req.ActionType,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": rec.Status})
}

func (a *API) markResolved(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapSupplier)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	rec, err := a.engine.MarkResolved(r.Context(), principal.TenantID, id, principal.ActorID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	obs.ObserveTransition(string(warranty.EventStatusChanged), string(rec.Status))
	a.audit(r.Context(), "warranty.replacement.resolved", "warranty", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": rec.Status})
}

// reissueToken mints a fresh resolution token for a lost link.
func (a *API) reissueToken(w http.ResponseWriter, r *http.Request, id string) {
	principal, err := a.requireStaff(r.Context(), staffauth.CapRead)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	// Confirm the warranty belongs to the caller's tenant before minting.
	if _, _, err := a.engine.Get(r.Context(), principal.TenantID, id, 0, 1); err != nil {
		handleEngineError(w, r, err)
		return
	}
	resolveToken, exp, err := a.tokens.Issue(id, principal.TenantID, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token issuance failed")
		return
	}
	a.audit(r.Context(), "warranty.token.reissue", "warranty", id, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"resolve_token":    resolveToken,
		"token_expires_at": exp,
	})
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseNonNegativeInt(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return val, nil
}
