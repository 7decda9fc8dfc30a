package auth

import "context"

// UpsertOutcome tags the result of an InsertOrFetch so callers never use
// exceptions for control flow: both branches wrap the resolved user.
type UpsertOutcome string

const (
	OutcomeCreated        UpsertOutcome = "created"
	OutcomeAlreadyExisted UpsertOutcome = "already_existed"
)

// UpsertResult is the tagged result of an atomic insert-or-fetch.
type UpsertResult struct {
	User    User
	Outcome UpsertOutcome
}

// ProfileUpdate carries the mutable fields refreshed from provider claims.
type ProfileUpdate struct {
	Email       string
	DisplayName string
}

// Store describes the persistence contract consumed by the reconciler and
// the user handlers. Implementations must enforce a uniqueness constraint
// on the external subject id: InsertOrFetch is the only write path for new
// identities and must resolve concurrent first-time inserts to a single
// row. Every operation is bounded by a timeout; an unreachable backend
// surfaces as a plain error which callers map to ErrStoreUnavailable.
type Store interface {
	FindByExternalID(ctx context.Context, externalID string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	InsertOrFetch(ctx context.Context, u User) (UpsertResult, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error)
	List(ctx context.Context) ([]User, error)
	SetRole(ctx context.Context, id string, role Role) (User, error)
	Deactivate(ctx context.Context, id string) (User, error)
}
