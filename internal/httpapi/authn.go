package httpapi

import (
	"errors"
	"net/http"

	"github.com/arun-gopi/rcm-backend/internal/auth"
	"github.com/arun-gopi/rcm-backend/internal/obs"
)

// requireUser runs the user gate for the request. On failure it writes the
// rejection and returns ok=false; handlers simply return.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, err := a.gate.RequireUser(r.Context(), r.Header.Get(authHeader))
	if err != nil {
		respondAuthError(w, r, err)
		return auth.User{}, false
	}
	obs.ObserveAuth("allowed")
	return user, true
}

// requireAdmin runs the admin gate for the request.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, err := a.gate.RequireAdmin(r.Context(), r.Header.Get(authHeader))
	if err != nil {
		respondAuthError(w, r, err)
		return auth.User{}, false
	}
	obs.ObserveAuth("allowed")
	return user, true
}

func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	obs.ObserveAuth(authOutcome(err))
	switch {
	case errors.Is(err, auth.ErrForbidden):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusForbidden, "insufficient privilege")
	case errors.Is(err, auth.ErrKeyUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "identity provider unavailable")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "identity store unavailable")
	default:
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, authMessage(err))
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing bearer token"
	case errors.Is(err, auth.ErrMalformedToken):
		return "malformed token"
	case errors.Is(err, auth.ErrExpired):
		return "token expired"
	case errors.Is(err, auth.ErrNotYetValid):
		return "token not yet valid"
	case errors.Is(err, auth.ErrWrongIssuer):
		return "token issuer or audience mismatch"
	default:
		return "invalid token"
	}
}

func authOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, auth.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, auth.ErrWrongIssuer):
		return "wrong_issuer"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, auth.ErrKeyUnavailable):
		return "keys_unavailable"
	case errors.Is(err, auth.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
