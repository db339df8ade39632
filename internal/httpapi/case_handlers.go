package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"healthpal.org/internal/audit"
	"healthpal.org/internal/guard"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/ledger"
	"healthpal.org/internal/obs"
	"healthpal.org/internal/stream"
)

type createCaseRequest struct {
	PatientID   string `json:"patient_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GoalAmount  int64  `json:"goal_amount"`
}

type donateRequest struct {
	Amount int64 `json:"amount"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleCasesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCase(w, r)
	case http.MethodGet:
		a.listCases(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCaseResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/cases/"), "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	caseID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCase(w, r, caseID)
	case len(parts) == 2 && parts[1] == "donations":
		switch r.Method {
		case http.MethodPost:
			a.donate(w, r, caseID)
		case http.MethodGet:
			a.listDonations(w, r, caseID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.closeCase(w, r, caseID)
	case len(parts) == 2 && parts[1] == "transparency":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.transparency(w, r, caseID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) createCase(w http.ResponseWriter, r *http.Request) {
	principal, ok := guard.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, guard.ErrUnauthenticated)
		return
	}
	if err := guard.RequireRole(principal, identity.RolePatient, identity.RoleNGO, identity.RoleAdmin); err != nil {
		respondError(w, r, err)
		return
	}

	var req createCaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	patientID := strings.TrimSpace(req.PatientID)
	if own, ok := principal.ProfileID(identity.RolePatient); ok && patientID == "" {
		patientID = own
	}
	if patientID == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "patient_id is required")
		return
	}
	// a bare patient may only open cases for their own profile
	if !principal.HasRole(identity.RoleNGO) {
		if err := guard.RequireOwner(principal, identity.RolePatient, patientID); err != nil {
			respondError(w, r, err)
			return
		}
	}

	c, err := a.ledger.CreateCase(r.Context(), patientID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Description), req.GoalAmount)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "case.create", map[string]any{
		"case_id":     c.ID,
		"patient_id":  c.PatientID,
		"goal_amount": strconv.FormatInt(c.GoalAmount, 10),
	})
	w.Header().Set("Location", "/v1/cases/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) listCases(w http.ResponseWriter, r *http.Request) {
	cases, err := a.ledger.ListCases(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cases})
}

func (a *API) getCase(w http.ResponseWriter, r *http.Request, id string) {
	c, err := a.ledger.GetCase(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) donate(w http.ResponseWriter, r *http.Request, caseID string) {
	principal, ok := guard.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, guard.ErrUnauthenticated)
		return
	}
	if err := guard.RequireRole(principal, identity.RoleDonor, identity.RolePatient, identity.RoleAdmin); err != nil {
		respondError(w, r, err)
		return
	}

	var req donateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	d, c, err := a.ledger.ApplyDonation(r.Context(), caseID, principal.AccountID, req.Amount)
	if err != nil {
		obs.ObserveDonationReject(rejectReason(err))
		respondError(w, r, err)
		return
	}

	funded := c.Status == ledger.StatusFunded
	obs.ObserveDonation(d.Amount, funded)
	if a.stream != nil {
		a.stream.Publish(stream.DonationEvent{
			CaseID:    c.ID,
			Amount:    d.Amount,
			Total:     c.CurrentAmount,
			Goal:      c.GoalAmount,
			Status:    c.Status,
			Timestamp: time.Now().UTC(),
		})
	}
	_ = audit.LogEvent(r.Context(), "ledger.donation.apply", map[string]any{
		"donation_id": d.ID,
		"case_id":     c.ID,
		"amount":      strconv.FormatInt(d.Amount, 10),
		"funded":      funded,
	})

	w.Header().Set("Location", "/v1/cases/"+c.ID+"/donations")
	writeJSON(w, http.StatusCreated, map[string]any{
		"donation": d,
		"case":     c,
	})
}

func (a *API) listDonations(w http.ResponseWriter, r *http.Request, caseID string) {
	donations, err := a.ledger.DonationsForCase(r.Context(), caseID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": donations})
}

func (a *API) closeCase(w http.ResponseWriter, r *http.Request, caseID string) {
	principal, ok := guard.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, guard.ErrUnauthenticated)
		return
	}
	if err := guard.RequireRole(principal, identity.RoleAdmin, identity.RoleNGO); err != nil {
		respondError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	// funded is reached only through the ledger; closed is the only
	// transition callers may request
	if req.Status != string(ledger.StatusClosed) {
		writeError(w, r, http.StatusBadRequest, "validation_error", "status must be closed")
		return
	}

	c, err := a.ledger.CloseCase(r.Context(), caseID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "case.close", map[string]any{"case_id": c.ID})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) transparency(w http.ResponseWriter, r *http.Request, caseID string) {
	rep, err := a.reports.Build(r.Context(), caseID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func rejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrCaseNotFound):
		return "case_not_found"
	case errors.Is(err, ledger.ErrCaseClosed):
		return "case_closed"
	case errors.Is(err, ledger.ErrGoalExceeded):
		return "goal_exceeded"
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return "concurrency_conflict"
	default:
		return "internal"
	}
}
