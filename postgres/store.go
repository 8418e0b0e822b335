package postgres

import (
	"context"
	_ "embed"
	"errors"

	goPasscode "github.com/MrEthical07/goPasscode"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

//go:embed migrations/001_identities.sql
var migrationSQL string

// poolIface is the subset of *pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdentityStore implements goPasscode.IdentityStore using PostgreSQL.
type IdentityStore struct {
	pool poolIface
}

var _ goPasscode.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore wraps an existing pool.
func NewIdentityStore(pool poolIface) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// Connect opens a pgx pool for dsn and returns the store with it. The caller closes the
// pool.
func Connect(ctx context.Context, dsn string) (*IdentityStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, oops.Code("IDENTITY_DB_CONNECT_FAILED").Wrap(err)
	}
	return NewIdentityStore(pool), pool, nil
}

// Migrate creates the identity and credential tables if they do not exist.
func (s *IdentityStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return oops.Code("IDENTITY_MIGRATE_FAILED").Wrap(err)
	}
	return nil
}

func (s *IdentityStore) GetIdentity(ctx context.Context, key string) (goPasscode.Identity, error) {
	var (
		identity goPasscode.Identity
		tv       int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, identity_key, role, token_version, created_at
		 FROM passcode_identities WHERE identity_key = $1`,
		key,
	).Scan(&identity.ID, &identity.Key, &identity.Role, &tv, &identity.CreatedAt)
	if err != nil {
		return goPasscode.Identity{}, queryError("IDENTITY_GET_FAILED", key, err)
	}
	identity.TokenVersion = uint32(tv)
	identity.CreatedAt = identity.CreatedAt.UTC()
	return identity, nil
}

// CreateIdentity inserts the identity, and the credential when one is given, in a single
// statement.
func (s *IdentityStore) CreateIdentity(ctx context.Context, identity goPasscode.Identity, credential *goPasscode.Credential) error {
	var err error
	if credential == nil {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO passcode_identities (id, identity_key, role, token_version, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.Key, identity.Role, int64(identity.TokenVersion), identity.CreatedAt,
		)
	} else {
		_, err = s.pool.Exec(ctx,
			`WITH created AS (
			   INSERT INTO passcode_identities (id, identity_key, role, token_version, created_at)
			   VALUES ($1, $2, $3, $4, $5)
			   RETURNING identity_key
			 )
			 INSERT INTO passcode_credentials (identity_key, password_hash, updated_at)
			 SELECT identity_key, $6, $7 FROM created`,
			identity.ID, identity.Key, identity.Role, int64(identity.TokenVersion), identity.CreatedAt,
			credential.PasswordHash, credential.UpdatedAt,
		)
	}
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("IDENTITY_CONFLICT").
			With("identity_key", identity.Key).
			Wrap(goPasscode.ErrIdentityConflict)
	}
	return unavailable("IDENTITY_CREATE_FAILED", identity.Key, err)
}

func (s *IdentityStore) GetCredential(ctx context.Context, key string) (goPasscode.Credential, error) {
	credential := goPasscode.Credential{IdentityKey: key}
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash, updated_at FROM passcode_credentials WHERE identity_key = $1`,
		key,
	).Scan(&credential.PasswordHash, &credential.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return goPasscode.Credential{}, oops.Code("CREDENTIAL_NOT_FOUND").
			With("identity_key", key).
			Wrap(goPasscode.ErrCredentialNotFound)
	}
	if err != nil {
		return goPasscode.Credential{}, unavailable("CREDENTIAL_GET_FAILED", key, err)
	}
	credential.UpdatedAt = credential.UpdatedAt.UTC()
	return credential, nil
}

// SetCredential upserts the credential and bumps the token version in one statement. It
// returns the new token version.
func (s *IdentityStore) SetCredential(ctx context.Context, credential goPasscode.Credential) (uint32, error) {
	var tv int64
	err := s.pool.QueryRow(ctx,
		`WITH bumped AS (
		   UPDATE passcode_identities SET token_version = token_version + 1
		   WHERE identity_key = $1
		   RETURNING identity_key, token_version
		 ), stored AS (
		   INSERT INTO passcode_credentials (identity_key, password_hash, updated_at)
		   SELECT identity_key, $2, $3 FROM bumped
		   ON CONFLICT (identity_key) DO UPDATE
		   SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
		 )
		 SELECT token_version FROM bumped`,
		credential.IdentityKey, credential.PasswordHash, credential.UpdatedAt,
	).Scan(&tv)
	if err != nil {
		return 0, queryError("CREDENTIAL_SET_FAILED", credential.IdentityKey, err)
	}
	return uint32(tv), nil
}

// UpdatePasswordHash rewrites the stored hash in place. The token version is unchanged.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, credential goPasscode.Credential) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE passcode_credentials SET password_hash = $2, updated_at = $3
		 WHERE identity_key = $1`,
		credential.IdentityKey, credential.PasswordHash, credential.UpdatedAt,
	)
	if err != nil {
		return unavailable("CREDENTIAL_UPDATE_FAILED", credential.IdentityKey, err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").
			With("identity_key", credential.IdentityKey).
			Wrap(goPasscode.ErrCredentialNotFound)
	}
	return nil
}

func (s *IdentityStore) BumpTokenVersion(ctx context.Context, key string) (uint32, error) {
	var tv int64
	err := s.pool.QueryRow(ctx,
		`UPDATE passcode_identities SET token_version = token_version + 1
		 WHERE identity_key = $1 RETURNING token_version`,
		key,
	).Scan(&tv)
	if err != nil {
		return 0, queryError("TOKEN_VERSION_BUMP_FAILED", key, err)
	}
	return uint32(tv), nil
}

// queryError maps a single-row query failure. No row means the identity does not exist.
func queryError(code, key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("identity_key", key).
			Wrap(goPasscode.ErrIdentityNotFound)
	}
	return unavailable(code, key, err)
}

func unavailable(code, key string, err error) error {
	return oops.Code(code).
		With("identity_key", key).
		Wrap(errors.Join(goPasscode.ErrIdentityUnavailable, err))
}
