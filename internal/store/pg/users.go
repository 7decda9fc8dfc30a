package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arun-gopi/rcm-backend/internal/auth"
)

const pgErrUniqueViolation = "23505"

var _ auth.Store = (*Store)(nil)

const userColumns = `id, external_subject_id, email, display_name, role, active, created_at, updated_at`

// FindByExternalID returns the user mapped to the provider subject.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where external_subject_id = $1
	`, externalID)
	return scanUser(row)
}

// FindByID returns the user with the given local id.
func (s *Store) FindByID(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

// InsertOrFetch inserts the candidate row or, when another request already
// created the subject, returns the existing row. The uniqueness constraint
// on external_subject_id is the source of truth: a conflicting insert is
// not an error, it is the signal to re-read.
func (s *Store) InsertOrFetch(ctx context.Context, u auth.User) (auth.UpsertResult, error) {
	if s.db == nil {
		return auth.UpsertResult{}, errors.New("database connection unavailable")
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(opCtx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (external_subject_id) do nothing
		returning `+userColumns+`
	`, u.ID, u.ExternalSubjectID, u.Email, u.DisplayName, string(u.Role), u.Active, u.CreatedAt, u.UpdatedAt)

	created, err := scanUser(row)
	switch {
	case err == nil:
		return auth.UpsertResult{User: created, Outcome: auth.OutcomeCreated}, nil
	case errors.Is(err, auth.ErrNotFound):
		// Conflict: the row exists, inserted by a concurrent request.
	default:
		if pgErr, ok := maybePgError(err); !ok || pgErr.Code != pgErrUniqueViolation {
			return auth.UpsertResult{}, err
		}
	}

	existing, err := s.FindByExternalID(ctx, u.ExternalSubjectID)
	if err != nil {
		return auth.UpsertResult{}, err
	}
	return auth.UpsertResult{User: existing, Outcome: auth.OutcomeAlreadyExisted}, nil
}

// UpdateProfile refreshes the mutable profile fields and stamps updated_at.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd auth.ProfileUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		update users
		set email = $2, display_name = $3, updated_at = now()
		where id = $1
		returning `+userColumns+`
	`, id, upd.Email, upd.DisplayName)
	return scanUser(row)
}

// List returns all users ordered by creation time.
func (s *Store) List(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var u auth.User
		var role string
		if err := rows.Scan(&u.ID, &u.ExternalSubjectID, &u.Email, &u.DisplayName, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = auth.Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetRole updates the privilege level of a user.
func (s *Store) SetRole(ctx context.Context, id string, role auth.Role) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		update users
		set role = $2, updated_at = now()
		where id = $1
		returning `+userColumns+`
	`, id, string(role))
	return scanUser(row)
}

// Deactivate disables an account. Rows are never deleted.
func (s *Store) Deactivate(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		update users
		set active = false, updated_at = now()
		where id = $1
		returning `+userColumns+`
	`, id)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var u auth.User
	var role string
	err := row.Scan(&u.ID, &u.ExternalSubjectID, &u.Email, &u.DisplayName, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
