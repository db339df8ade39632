package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"healthpal.org/internal/guard"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/ledger"
	"healthpal.org/internal/obs"
)

// errorBody is the error envelope: {status, error, message}.
type errorBody struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeJSON(w, code, errorBody{
		Status:    code,
		Error:     kind,
		Message:   msg,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// respondError maps domain failures to the error taxonomy. Unexpected
// failures are logged with full context and surfaced generically.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, guard.ErrUnauthenticated), errors.Is(err, identity.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "authentication_error", "invalid or missing credentials")
	case errors.Is(err, guard.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "authorization_error", "operation not permitted for this caller")
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidGoal):
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, ledger.ErrGoalExceeded):
		writeError(w, r, http.StatusBadRequest, "goal_exceeded", err.Error())
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, ledger.ErrCaseNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, identity.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, ledger.ErrCaseClosed):
		writeError(w, r, http.StatusConflict, "case_closed", err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		writeError(w, r, http.StatusConflict, "concurrency_conflict", "conflicting update, retry with a fresh read")
	default:
		obs.Error("request failed", err, map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
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
