package auth

import "context"

// TokenVerifier turns a raw Authorization header into verified claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawHeader string) (VerifiedClaims, error)
}

// IdentityReconciler maps verified claims onto a local user.
type IdentityReconciler interface {
	Reconcile(ctx context.Context, claims VerifiedClaims) (User, error)
}

// Resolver composes verification and reconciliation into the two gates
// handlers declare as preconditions. A handler never verifies tokens
// itself; it asks for a user or an admin and receives the resolved record.
type Resolver struct {
	verifier   TokenVerifier
	reconciler IdentityReconciler
}

// NewResolver constructs a Resolver over the given collaborators.
func NewResolver(verifier TokenVerifier, reconciler IdentityReconciler) *Resolver {
	return &Resolver{verifier: verifier, reconciler: reconciler}
}

// RequireUser verifies the credential and reconciles the identity,
// propagating the first failure encountered. Deactivated accounts are
// rejected with ErrForbidden: the credential was valid, the account is not.
func (r *Resolver) RequireUser(ctx context.Context, rawHeader string) (User, error) {
	claims, err := r.verifier.Verify(ctx, rawHeader)
	if err != nil {
		return User{}, err
	}
	user, err := r.reconciler.Reconcile(ctx, claims)
	if err != nil {
		return User{}, err
	}
	if !user.Active {
		return User{}, ErrForbidden
	}
	return user, nil
}

// RequireAdmin runs RequireUser and then checks the stored role. A
// non-admin fails with ErrForbidden, distinct from any authentication
// failure.
func (r *Resolver) RequireAdmin(ctx context.Context, rawHeader string) (User, error) {
	user, err := r.RequireUser(ctx, rawHeader)
	if err != nil {
		return User{}, err
	}
	if !user.IsAdmin() {
		return User{}, ErrForbidden
	}
	return user, nil
}
