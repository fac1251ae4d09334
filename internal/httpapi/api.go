package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"warrantly.org/internal/audit"
	"warrantly.org/internal/obs"
	"warrantly.org/internal/staffauth"
	"warrantly.org/internal/token"
	"warrantly.org/internal/warranty"
)

// ReadyProbe reports readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the warranty engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	engine *warranty.Engine
	tokens *token.Issuer
	staff  *staffauth.Service

	tokenTTL     time.Duration
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

// Option overrides an API default.
type Option func(*API)

// WithMaxBodyBytes sets the request body size cap.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithPublicRateLimit sets the per-IP burst and refill rate applied to the
// anonymous resolve and claim paths.
func WithPublicRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSec > 0 {
			a.ratePerSec = perSec
		}
	}
}

// New wires the routes. staff may be nil to disable authentication (tests).
func New(rp ReadyProbe, version string, engine *warranty.Engine, tokens *token.Issuer, staff *staffauth.Service, tokenTTL time.Duration, opts ...Option) *API {
	if tokenTTL <= 0 {
		tokenTTL = 72 * time.Hour
	}
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		engine:       engine,
		tokens:       tokens,
		staff:        staff,
		tokenTTL:     tokenTTL,
		maxBodyBytes: 1 << 20,
		rateBurst:    20,
		ratePerSec:   5,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/warranties", a.handleWarrantiesCollection)
	a.mux.HandleFunc("/v1/warranties/", a.handleWarrantyResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = a.publicRateLimit(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = SecurityHeaders(h)
	h = WithRequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- health/info ---

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "warrantly-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "warrantly-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleEngineError maps the engine's error taxonomy to HTTP statuses. An
// invalid transition carries the authoritative status so the caller can
// reconcile its view; a version conflict asks for a re-read and retry.
func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *warranty.ValidationError
	if errors.As(err, &verr) {
		writeErrorPayload(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error": verr.Error(),
			"code":  "validation_error",
			"field": verr.Field,
		})
		return
	}
	var terr *warranty.TransitionError
	if errors.As(err, &terr) {
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error":  terr.Error(),
			"code":   "invalid_transition",
			"status": terr.Current,
		})
		return
	}
	switch {
	case errors.Is(err, warranty.ErrValidation):
		writeErrorPayload(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"code":  "validation_error",
		})
	case errors.Is(err, warranty.ErrInvalidTransition):
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"code":  "invalid_transition",
		})
	case errors.Is(err, warranty.ErrConflict):
		writeErrorPayload(w, r, http.StatusConflict, map[string]any{
			"error": "concurrent update, re-read and retry",
			"code":  "conflict",
		})
	case errors.Is(err, warranty.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "warranty not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(ctx context.Context, event, entity, id string, meta map[string]string) {
	fields := map[string]any{"entity": entity, "id": id}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
