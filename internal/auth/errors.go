package auth

import "errors"

// Terminal rejection reasons for a single request. None of them is retried
// internally; ErrKeyUnavailable and ErrStoreUnavailable are the only ones a
// caller may retry with a new request, since both guarantee no user state
// was created or observed.
var (
	ErrMissingCredential = errors.New("auth: missing credential")
	ErrMalformedToken    = errors.New("auth: malformed token")
	ErrExpired           = errors.New("auth: token expired")
	ErrNotYetValid       = errors.New("auth: token not yet valid")
	ErrWrongIssuer       = errors.New("auth: issuer or audience mismatch")
	ErrSignatureInvalid  = errors.New("auth: signature invalid")
	ErrKeyUnavailable    = errors.New("auth: signing keys unavailable")
	ErrStoreUnavailable  = errors.New("auth: identity store unavailable")
	ErrForbidden         = errors.New("auth: insufficient privilege")

	// ErrNotFound is the store-level miss signal, consumed by the
	// reconciler and by handlers looking up users by id.
	ErrNotFound = errors.New("auth: user not found")
)
