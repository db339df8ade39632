package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"healthpal.org/internal/guard"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/ledger"
	"healthpal.org/internal/obs"
	"healthpal.org/internal/report"
	"healthpal.org/internal/stream"
)

// ReadyProbe checks backing-store availability for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the service wiring for the HTTP layer.
type Deps struct {
	Identity *identity.Service
	Guard    *guard.Guard
	Ledger   ledger.Service
	Reports  *report.Projector
	Stream   *stream.Stream
	Probe    ReadyProbe
	Version  string

	RateBurst  int
	RatePerSec int
}

// API is the HTTP surface.
type API struct {
	mux      *http.ServeMux
	identity *identity.Service
	guard    *guard.Guard
	ledger   ledger.Service
	reports  *report.Projector
	stream   *stream.Stream
	probe    ReadyProbe
	version  string

	rateBurst  int
	ratePerSec int
}

// New builds the API and registers its routes.
func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		identity:   d.Identity,
		guard:      d.Guard,
		ledger:     d.Ledger,
		reports:    d.Reports,
		stream:     d.Stream,
		probe:      d.Probe,
		version:    d.Version,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/signup", a.handleSignUp)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/cases", a.handleCasesCollection)
	a.mux.HandleFunc("/v1/cases/", a.handleCaseResource)
	a.mux.HandleFunc("/v1/stream/donations", a.handleDonationStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "healthpal-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "healthpal-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
