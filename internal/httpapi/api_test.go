package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"healthpal.org/internal/guard"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/ledger"
	"healthpal.org/internal/report"
	"healthpal.org/internal/stream"
	"healthpal.org/internal/token"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	tokens, err := token.NewService("httpapi-test-secret", nil)
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	accounts := identity.NewMemoryStore()
	books := ledger.NewInMemory()
	api := New(Deps{
		Identity:   identity.NewService(accounts, tokens),
		Guard:      guard.New(tokens, accounts),
		Ledger:     books,
		Reports:    report.New(books),
		Stream:     stream.New(),
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	return api.Handler()
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func signupAndLogin(t *testing.T, h http.Handler, username, email string, roles ...string) (accessToken string, account map[string]any) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"username": username,
		"email":    email,
		"password": "longenough",
		"roles":    roles,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", email, rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp struct {
		Tokens  token.Pair     `json:"tokens"`
		Account map[string]any `json:"account"`
	}
	decode(t, rec, &resp)
	return resp.Tokens.AccessToken, resp.Account
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := do(t, h, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestAuthFlow(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "longenough",
		"roles":    []string{"patient"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	decode(t, rec, &created)
	if _, ok := created["password_hash"]; ok {
		t.Fatal("password hash must never leave the server")
	}

	// duplicate email
	rec = do(t, h, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"username": "alice2",
		"email":    "alice@example.com",
		"password": "longenough",
		"roles":    []string{"donor"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", rec.Code)
	}
	var envelope errorBody
	decode(t, rec, &envelope)
	if envelope.Error != "duplicate" || envelope.Status != http.StatusConflict {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	// wrong password gives the same envelope as unknown email
	rec = do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "wrong-pass",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rec.Code)
	}
	decode(t, rec, &envelope)
	if envelope.Error != "authentication_error" {
		t.Fatalf("unexpected error kind %q", envelope.Error)
	}

	rec = do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Tokens token.Pair `json:"tokens"`
	}
	decode(t, rec, &login)

	rec = do(t, h, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": login.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}

	// logout without a credential is a validation failure, not a 401
	rec = do(t, h, http.MethodPost, "/v1/auth/logout", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("token-less logout: expected 400, got %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &envelope)
	if envelope.Error != "validation_error" {
		t.Fatalf("token-less logout: unexpected error kind %q", envelope.Error)
	}

	// logout revokes the access token that made the request
	rec = do(t, h, http.MethodPost, "/v1/auth/logout", login.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/v1/cases", login.Tokens.AccessToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", rec.Code)
	}
}

func TestCaseLifecycle(t *testing.T) {
	h := newTestAPI(t)

	patientTok, _ := signupAndLogin(t, h, "bob", "bob@example.com", "patient")
	donorTok, _ := signupAndLogin(t, h, "dana", "dana@example.com", "donor")
	ngoTok, _ := signupAndLogin(t, h, "helpers", "ngo@example.com", "ngo")

	// unauthenticated case creation is rejected
	rec := do(t, h, http.MethodPost, "/v1/cases", "", map[string]any{
		"title": "nope", "goal_amount": 100,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: expected 401, got %d", rec.Code)
	}

	// patient opens a case for their own profile
	rec = do(t, h, http.MethodPost, "/v1/cases", patientTok, map[string]any{
		"title":       "knee surgery",
		"description": "acl reconstruction",
		"goal_amount": 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create case: %d %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/v1/cases/") {
		t.Fatalf("missing Location header, got %q", loc)
	}
	var c ledger.Case
	decode(t, rec, &c)
	if c.Status != ledger.StatusOpen || c.GoalAmount != 10000 {
		t.Fatalf("unexpected case: %+v", c)
	}

	// donors cannot close cases
	rec = do(t, h, http.MethodPatch, "/v1/cases/"+c.ID+"/status", donorTok, map[string]any{"status": "closed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("donor close: expected 403, got %d", rec.Code)
	}

	// partial donation
	rec = do(t, h, http.MethodPost, "/v1/cases/"+c.ID+"/donations", donorTok, map[string]any{"amount": 4000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("donate: %d %s", rec.Code, rec.Body.String())
	}
	var donated struct {
		Donation ledger.Donation `json:"donation"`
		Case     ledger.Case     `json:"case"`
	}
	decode(t, rec, &donated)
	if donated.Case.CurrentAmount != 4000 || donated.Case.Status != ledger.StatusOpen {
		t.Fatalf("unexpected state after donation: %+v", donated.Case)
	}

	// overshooting the goal is rejected and changes nothing
	rec = do(t, h, http.MethodPost, "/v1/cases/"+c.ID+"/donations", donorTok, map[string]any{"amount": 7000})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overshoot: expected 400, got %d %s", rec.Code, rec.Body.String())
	}
	var envelope errorBody
	decode(t, rec, &envelope)
	if envelope.Error != "goal_exceeded" {
		t.Fatalf("expected goal_exceeded, got %q", envelope.Error)
	}

	// exact fill flips the case to funded
	rec = do(t, h, http.MethodPost, "/v1/cases/"+c.ID+"/donations", donorTok, map[string]any{"amount": 6000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("fill donation: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &donated)
	if donated.Case.Status != ledger.StatusFunded {
		t.Fatalf("expected funded, got %s", donated.Case.Status)
	}

	// transparency is public
	rec = do(t, h, http.MethodGet, "/v1/cases/"+c.ID+"/transparency", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transparency: %d %s", rec.Code, rec.Body.String())
	}
	var rep report.Transparency
	decode(t, rec, &rep)
	if rep.TotalDonated != 10000 || rep.Remaining != 0 || rep.ProgressBps != 10000 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.DonationCount != 2 {
		t.Fatalf("expected 2 donations in report, got %d", rep.DonationCount)
	}

	// ngo closes the funded case
	rec = do(t, h, http.MethodPatch, "/v1/cases/"+c.ID+"/status", ngoTok, map[string]any{"status": "closed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close: %d %s", rec.Code, rec.Body.String())
	}

	// donations bounce off a closed case
	rec = do(t, h, http.MethodPost, "/v1/cases/"+c.ID+"/donations", donorTok, map[string]any{"amount": 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("donate to closed: expected 409, got %d", rec.Code)
	}
	decode(t, rec, &envelope)
	if envelope.Error != "case_closed" {
		t.Fatalf("expected case_closed, got %q", envelope.Error)
	}

	// closing twice is an invalid transition
	rec = do(t, h, http.MethodPatch, "/v1/cases/"+c.ID+"/status", ngoTok, map[string]any{"status": "closed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double close: expected 409, got %d", rec.Code)
	}

	// donation history stays readable
	rec = do(t, h, http.MethodGet, "/v1/cases/"+c.ID+"/donations", donorTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list donations: %d %s", rec.Code, rec.Body.String())
	}
	var listing struct {
		Items []ledger.Donation `json:"items"`
	}
	decode(t, rec, &listing)
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 donations, got %d", len(listing.Items))
	}
}

func TestCreateCaseForOtherPatientForbidden(t *testing.T) {
	h := newTestAPI(t)
	patientTok, _ := signupAndLogin(t, h, "carl", "carl@example.com", "patient")

	rec := do(t, h, http.MethodPost, "/v1/cases", patientTok, map[string]any{
		"patient_id":  "someone-elses-profile",
		"title":       "not mine",
		"goal_amount": 500,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}

	// an ngo may open cases on behalf of patients
	ngoTok, _ := signupAndLogin(t, h, "medngo", "medngo@example.com", "ngo")
	rec = do(t, h, http.MethodPost, "/v1/cases", ngoTok, map[string]any{
		"patient_id":  "some-patient-profile",
		"title":       "sponsored case",
		"goal_amount": 500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ngo create: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCaseStatusRejectsNonClosed(t *testing.T) {
	h := newTestAPI(t)
	patientTok, _ := signupAndLogin(t, h, "pam", "pam@example.com", "patient", "ngo")

	rec := do(t, h, http.MethodPost, "/v1/cases", patientTok, map[string]any{
		"title": "therapy", "goal_amount": 100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var c ledger.Case
	decode(t, rec, &c)

	// funded cannot be requested directly
	rec = do(t, h, http.MethodPatch, "/v1/cases/"+c.ID+"/status", patientTok, map[string]any{"status": "funded"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownCaseIs404(t *testing.T) {
	h := newTestAPI(t)
	tok, _ := signupAndLogin(t, h, "dory", "dory@example.com", "donor")

	rec := do(t, h, http.MethodGet, "/v1/cases/no-such-case", tok, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/v1/cases/no-such-case/donations", tok, map[string]any{"amount": 100})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("donate to missing case: expected 404, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("response must carry a request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "rid-from-proxy")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	if got := out.Header().Get("X-Request-Id"); got != "rid-from-proxy" {
		t.Fatalf("supplied request id must be honored, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/cases", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(inner, 2, 1)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
		req.RemoteAddr = "198.51.100.7:4444"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", last)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("empty header must fail")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatal("non-bearer scheme must fail")
	}
	if _, err := extractBearerToken("Bearer   "); err == nil {
		t.Fatal("empty token must fail")
	}
	tok, err := extractBearerToken("bearer abc.def.ghi")
	if err != nil || tok != "abc.def.ghi" {
		t.Fatalf("case-insensitive scheme: %q %v", tok, err)
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	h := newTestAPI(t)
	rec := do(t, h, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "x@example.com",
		"password": "longenough",
		"surprise": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}
