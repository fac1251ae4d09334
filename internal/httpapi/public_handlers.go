package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/token"
	"warrantly.org/internal/warranty"
)

const resolutionTokenHeader = "X-Resolution-Token"

type claimRequest struct {
	CustomerName    string   `json:"customer_name"`
	CustomerPhone   string   `json:"customer_phone"`
	CustomerEmail   string   `json:"customer_email"`
	Description     string   `json:"issue_description"`
	Attachments     []string `json:"attachments"`
	PreferredAction string   `json:"preferred_action"`
}

// resolvePublic serves the anonymous token lookup. A missing warranty behind
// a structurally valid token answers exactly like a bad signature so guessing
// tokens confirms nothing.
func (a *API) resolvePublic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	claims, err := a.verifyResolutionToken(w, r, r.URL.Query().Get("q"))
	if err != nil {
		return
	}

	view, err := a.engine.Resolve(r.Context(), claims.TenantID, claims.WarrantyID)
	if err != nil {
		obs.ObserveTokenResolution("invalid")
		writeTokenInvalid(w, r)
		return
	}
	obs.ObserveTokenResolution("ok")
	writeJSON(w, http.StatusOK, view)
}

// submitClaim records a customer claim. The path id must match the verified
// token: possession of a valid token for warranty X grants nothing for
// warranty Y.
func (a *API) submitClaim(w http.ResponseWriter, r *http.Request, id string) {
	raw := r.URL.Query().Get("q")
	if raw == "" {
		raw = r.Header.Get(resolutionTokenHeader)
	}
	claims, err := a.verifyResolutionToken(w, r, raw)
	if err != nil {
		return
	}
	if claims.WarrantyID != id {
		obs.ObserveTokenResolution("invalid")
		writeTokenInvalid(w, r)
		return
	}

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.engine.SubmitClaim(r.Context(), warranty.ClaimInput{
		TenantID:        claims.TenantID,
		WarrantyID:      claims.WarrantyID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		Description:     req.Description,
		Attachments:     req.Attachments,
		PreferredAction: req.PreferredAction,
	})
	if err != nil {
		// The token proved possession, so NotFound here would leak; keep
		// the generic token answer for missing rows.
		if errors.Is(err, warranty.ErrNotFound) {
			writeTokenInvalid(w, r)
			return
		}
		handleEngineError(w, r, err)
		return
	}

	obs.ObserveTransition(string(warranty.EventClaimRegistered), string(result.Status))
	writeJSON(w, http.StatusCreated, result)
}

// verifyResolutionToken checks the raw token and writes the error response
// itself on failure, returning a non-nil error to signal the handler to stop.
func (a *API) verifyResolutionToken(w http.ResponseWriter, r *http.Request, raw string) (token.Claims, error) {
	claims, err := a.tokens.Verify(strings.TrimSpace(raw))
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			obs.ObserveTokenResolution("expired")
			writeErrorPayload(w, r, http.StatusGone, map[string]any{
				"error": "link invalid or expired",
				"code":  "token_expired",
			})
			return token.Claims{}, err
		}
		obs.ObserveTokenResolution("invalid")
		writeTokenInvalid(w, r)
		return token.Claims{}, err
	}
	return claims, nil
}

func writeTokenInvalid(w http.ResponseWriter, r *http.Request) {
	writeErrorPayload(w, r, http.StatusUnauthorized, map[string]any{
		"error": "link invalid or expired",
		"code":  "token_invalid",
	})
}
