package httpapi

import (
	"errors"
	"net/http"

	"healthpal.org/internal/audit"
	"healthpal.org/internal/guard"
	"healthpal.org/internal/identity"
	"healthpal.org/internal/token"
)

type signUpRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Phone    string   `json:"phone"`
	Roles    []string `json:"roles"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	acc, err := a.identity.SignUp(r.Context(), identity.SignUpParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Roles:    req.Roles,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"account_id": acc.ID,
		"roles":      acc.RoleNames(),
	})
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	pair, acc, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": acc.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens":  pair,
		"account": acc,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "refresh_token is required")
		return
	}

	pair, err := a.identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

// handleLogout revokes the exact token that authenticated this request.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	raw, ok := guard.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusBadRequest, "validation_error", "no token provided")
		return
	}
	if err := a.identity.Logout(r.Context(), raw); err != nil {
		if errors.Is(err, token.ErrMalformed) || errors.Is(err, token.ErrSignatureInvalid) {
			writeError(w, r, http.StatusBadRequest, "validation_error", "invalid token")
			return
		}
		respondError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}
