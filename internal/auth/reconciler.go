package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arun-gopi/rcm-backend/internal/ids"
	"github.com/arun-gopi/rcm-backend/internal/obs"
)

// Reconciler maps a verified external identity onto the local user table:
// find the row for the subject, sync its profile from the claims, or create
// it on first sight. Safe to call on every authenticated request; the
// store's uniqueness constraint resolves concurrent first-time inserts.
type Reconciler struct {
	store Store
	now   func() time.Time
}

// ReconcilerOption configures Reconciler behavior.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock overrides the time source (useful for tests).
func WithReconcilerClock(fn func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewReconciler constructs a Reconciler backed by the given store.
func NewReconciler(store Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile returns the local user for the claims' subject, creating or
// profile-syncing the row as needed. Identical claims reconcile to an
// identical user with updated_at untouched. Any store failure other than a
// miss surfaces as ErrStoreUnavailable with no partial state persisted.
func (r *Reconciler) Reconcile(ctx context.Context, claims VerifiedClaims) (User, error) {
	if claims.Subject == "" {
		return User{}, ErrMalformedToken
	}

	user, err := r.store.FindByExternalID(ctx, claims.Subject)
	switch {
	case err == nil:
		if user.ProfileMatches(claims) {
			obs.ObserveReconcile("existing")
			return user, nil
		}
		// Only the email follows the provider. The display name stays as
		// stored so profile edits survive the next authenticated request.
		updated, err := r.store.UpdateProfile(ctx, user.ID, ProfileUpdate{
			Email:       claims.Email,
			DisplayName: user.DisplayName,
		})
		if err != nil {
			return User{}, fmt.Errorf("%w: sync profile: %v", ErrStoreUnavailable, err)
		}
		obs.ObserveReconcile("synced")
		return updated, nil

	case errors.Is(err, ErrNotFound):
		now := r.now().UTC()
		res, err := r.store.InsertOrFetch(ctx, User{
			ID:                ids.New(),
			ExternalSubjectID: claims.Subject,
			Email:             claims.Email,
			DisplayName:       claims.DisplayName,
			Role:              RoleStandard,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			return User{}, fmt.Errorf("%w: insert user: %v", ErrStoreUnavailable, err)
		}
		if res.Outcome == OutcomeCreated {
			obs.ObserveReconcile("created")
		} else {
			obs.ObserveReconcile("existing")
		}
		return res.User, nil

	default:
		return User{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
