package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warrantly.org/internal/staffauth"
	"warrantly.org/internal/token"
	"warrantly.org/internal/warranty"
)

const (
	testSecret = "test-secret"
	testTenant = "tenant-1"
)

type testServer struct {
	srv        *httptest.Server
	staffToken string
	issuer     *token.Issuer
}

func newTestServer(t *testing.T, caps ...string) *testServer {
	t.Helper()

	store := warranty.NewInMemory()
	engine := warranty.NewEngine(store)

	issuer, err := token.NewIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	staff, err := staffauth.NewService(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) == 0 {
		caps = []string{staffauth.CapRegister, staffauth.CapRead, staffauth.CapInspect, staffauth.CapSupplier}
	}
	staffToken, err := staff.GenerateToken("staff-1", testTenant, caps, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	api := New(ReadyProbe{}, "test", engine, issuer, staff, 72*time.Hour)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, staffToken: staffToken, issuer: issuer}
}

// do issues a request; an empty bearer means anonymous.
func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func registerBody() map[string]any {
	purchase := time.Now().UTC().AddDate(0, -1, 0).Format("2006-01-02")
	return map[string]any{
		"product_id":             "p-100",
		"product_name":           "Espresso Machine",
		"serial_number":          "SN-1234567890",
		"customer_name":          "Ada Lovelace",
		"customer_phone":         "+15550100",
		"purchase_date":          purchase,
		"warranty_period_months": 24,
		"supplier_name":          "Acme Parts",
	}
}

func (ts *testServer) register(t *testing.T) registerResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/warranties", ts.staffToken, registerBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("register: missing Location header")
	}
	out := decode[registerResponse](t, resp)
	if out.WarrantyID == "" || out.WarrantyCode == "" || out.ResolveToken == "" {
		t.Fatalf("register: incomplete response: %+v", out)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := ts.do(t, http.MethodGet, "/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterResolveClaimFlow(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	// Anonymous resolve with the issued token.
	resp := ts.do(t, http.MethodGet, "/v1/warranties/resolve?q="+reg.ResolveToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: status %d", resp.StatusCode)
	}
	view := decode[warranty.PublicView](t, resp)
	if view.WarrantyCode != reg.WarrantyCode || !view.CanClaim {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.SerialNumber != "*********7890" {
		t.Fatalf("serial not masked: %q", view.SerialNumber)
	}

	// Anonymous claim.
	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "grinder makes a loud rattling noise",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("claim: status %d", resp.StatusCode)
	}
	res := decode[warranty.ClaimResult](t, resp)
	if res.Status != warranty.StatusClaimed || res.ManualReview || res.Sequence != 2 {
		t.Fatalf("unexpected claim result: %+v", res)
	}

	// A second claim conflicts and reports the authoritative status.
	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "grinder makes a loud rattling noise",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second claim: status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "invalid_transition" || body["status"] != "claimed" {
		t.Fatalf("unexpected conflict body: %v", body)
	}
}

func TestInspectionAndSupplierFlow(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	resp := ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "device powers off at random intervals",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("claim: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/inspection/start", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inspection start: status %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["status"] != "under_inspection" {
		t.Fatalf("unexpected status: %v", body)
	}

	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/inspect", ts.staffToken, map[string]any{
		"outcome":     "supplier_fault",
		"result_text": "motherboard defect found",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inspect: status %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["status"] != "declined" {
		t.Fatalf("unexpected status: %v", body)
	}

	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/supplier-action", ts.staffToken, map[string]any{
		"action_type":  "cash_refund_offered",
		"amount_minor": 15000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("supplier action: status %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["status"] != "refunded" {
		t.Fatalf("unexpected status: %v", body)
	}

	// Staff detail view: full history including the refund's financial event.
	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID, ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	detail := decode[struct {
		Warranty warranty.Warranty     `json:"warranty"`
		Events   []warranty.ClaimEvent `json:"events"`
	}](t, resp)
	if detail.Warranty.Status != warranty.StatusRefunded {
		t.Fatalf("unexpected stored status: %q", detail.Warranty.Status)
	}
	if len(detail.Events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(detail.Events))
	}
	if detail.Events[5].EventType != warranty.EventFinancialTransaction {
		t.Fatalf("expected financial event last, got %q", detail.Events[5].EventType)
	}
}

func TestReplacementResolution(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	steps := []struct {
		method string
		path   string
		bearer string
		body   any
		want   string
	}{
		{http.MethodPost, "/claim?q=" + reg.ResolveToken, "", map[string]any{
			"customer_name":     "Ada Lovelace",
			"customer_phone":    "+15550100",
			"issue_description": "display flickers constantly",
		}, "claimed"},
		{http.MethodPost, "/inspection/start", ts.staffToken, nil, "under_inspection"},
		{http.MethodPost, "/inspect", ts.staffToken, map[string]any{
			"outcome":     "covered",
			"result_text": "covered under standard terms",
		}, "replacement_pending"},
		{http.MethodPost, "/resolve-replacement", ts.staffToken, nil, "replaced"},
	}
	for _, step := range steps {
		resp := ts.do(t, step.method, "/v1/warranties/"+reg.WarrantyID+step.path, step.bearer, step.body)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			t.Fatalf("%s: status %d", step.path, resp.StatusCode)
		}
		body := decode[map[string]any](t, resp)
		if body["status"] != step.want {
			t.Fatalf("%s: status %v, want %s", step.path, body["status"], step.want)
		}
	}
}

func TestListAndDashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)
	ts.register(t)

	resp := ts.do(t, http.MethodGet, "/v1/warranties?status=active", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	list := decode[listResponse](t, resp)
	if list.Total != 2 || len(list.Items) != 2 {
		t.Fatalf("unexpected list: total=%d items=%d", list.Total, len(list.Items))
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties?limit=1", ts.staffToken, nil)
	list = decode[listResponse](t, resp)
	if list.Total != 2 || len(list.Items) != 1 {
		t.Fatalf("paging broken: total=%d items=%d", list.Total, len(list.Items))
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties/stats/dashboard", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	stats := decode[struct {
		Counts map[string]int `json:"counts"`
	}](t, resp)
	if stats.Counts["active"] != 2 {
		t.Fatalf("unexpected counts: %v", stats.Counts)
	}
}

func TestStaffAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/warranties", "", registerBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing bearer: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v1/warranties", "garbage", registerBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad bearer: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStaffCapabilityEnforced(t *testing.T) {
	// Token limited to read: registration must be refused.
	ts := newTestServer(t, staffauth.CapRead)

	resp := ts.do(t, http.MethodPost, "/v1/warranties", ts.staffToken, registerBody())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("register without capability: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/v1/warranties", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list with read capability: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResolveTokenFailures(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	// Garbage token answers 401 with the neutral message.
	resp := ts.do(t, http.MethodGet, "/v1/warranties/resolve?q=garbage", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "token_invalid" || body["error"] != "link invalid or expired" {
		t.Fatalf("unexpected body: %v", body)
	}

	// An expired but well-formed token answers 410.
	past := time.Now().Add(-48 * time.Hour)
	backdated, err := token.NewIssuer(testSecret, token.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatal(err)
	}
	expired, _, err := backdated.Issue(reg.WarrantyID, testTenant, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	resp = ts.do(t, http.MethodGet, "/v1/warranties/resolve?q="+expired, "", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expired token: status %d", resp.StatusCode)
	}
	body = decode[map[string]any](t, resp)
	if body["code"] != "token_expired" || body["error"] != "link invalid or expired" {
		t.Fatalf("unexpected body: %v", body)
	}

	// A valid token for warranty X grants nothing for warranty Y.
	other := ts.register(t)
	resp = ts.do(t, http.MethodPost, "/v1/warranties/"+other.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "display flickers constantly",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cross-warranty token: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	body := registerBody()
	body["warranty_period_months"] = 0
	resp := ts.do(t, http.MethodPost, "/v1/warranties", ts.staffToken, body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero period: status %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["code"] != "validation_error" || payload["field"] != "warranty_period_months" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	body = registerBody()
	body["purchase_date"] = "01/02/2024"
	resp = ts.do(t, http.MethodPost, "/v1/warranties", ts.staffToken, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	body = registerBody()
	body["unexpected_field"] = true
	resp = ts.do(t, http.MethodPost, "/v1/warranties", ts.staffToken, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestClaimValidationError(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	resp := ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "short",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("short description: status %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["field"] != "issue_description" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestTokenReissue(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	resp := ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/token", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reissue: status %d", resp.StatusCode)
	}
	out := decode[struct {
		ResolveToken string `json:"resolve_token"`
	}](t, resp)
	if out.ResolveToken == "" {
		t.Fatal("missing token")
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties/resolve?q="+out.ResolveToken, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve with reissued token: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown warranty id: no token minted.
	resp = ts.do(t, http.MethodPost, "/v1/warranties/does-not-exist/token", ts.staffToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("reissue for unknown id: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	resp := ts.do(t, http.MethodDelete, "/v1/warranties", ts.staffToken, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("collection: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID+"/inspection/start", ts.staffToken, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("inspection start: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWarrantyHistoryPaging(t *testing.T) {
	ts := newTestServer(t)
	reg := ts.register(t)

	resp := ts.do(t, http.MethodPost, "/v1/warranties/"+reg.WarrantyID+"/claim?q="+reg.ResolveToken, "", map[string]any{
		"customer_name":     "Ada Lovelace",
		"customer_phone":    "+15550100",
		"issue_description": "display flickers constantly",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("claim: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	type detail struct {
		Events    []warranty.ClaimEvent `json:"events"`
		NextAfter int64                 `json:"events_next_after"`
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID+"?events_limit=1", ts.staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first page: status %d", resp.StatusCode)
	}
	page := decode[detail](t, resp)
	if len(page.Events) != 1 || page.Events[0].Sequence != 1 {
		t.Fatalf("unexpected first page: %+v", page.Events)
	}
	if page.NextAfter != 1 {
		t.Fatalf("expected continuation marker, got %d", page.NextAfter)
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID+"?events_limit=1&events_after=1", ts.staffToken, nil)
	page = decode[detail](t, resp)
	if len(page.Events) != 1 || page.Events[0].Sequence != 2 {
		t.Fatalf("unexpected second page: %+v", page.Events)
	}

	// Short final page: no continuation marker.
	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID+"?events_after=1", ts.staffToken, nil)
	page = decode[detail](t, resp)
	if len(page.Events) != 1 || page.NextAfter != 0 {
		t.Fatalf("unexpected final page: %+v next=%d", page.Events, page.NextAfter)
	}

	resp = ts.do(t, http.MethodGet, "/v1/warranties/"+reg.WarrantyID+"?events_limit=0", ts.staffToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero limit: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConfiguredLimits(t *testing.T) {
	engine := warranty.NewEngine(warranty.NewInMemory())
	issuer, err := token.NewIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	api := New(ReadyProbe{}, "test", engine, issuer, nil, time.Hour,
		WithPublicRateLimit(1, 1),
		WithMaxBodyBytes(64),
	)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/warranties/resolve?q=garbage", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// Burst 1: the first anonymous request passes the limiter, the second is
	// refused before the token check runs.
	if code := get(); code != http.StatusUnauthorized {
		t.Fatalf("first request: status %d", code)
	}
	if code := get(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d", code)
	}

	// The configured body cap applies to staff payloads.
	body := bytes.NewReader(make([]byte, 256))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/warranties", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized body: status %d", resp.StatusCode)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}
