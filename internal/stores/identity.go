package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrIdentityNotFound         = errors.New("identity not found")
	ErrIdentityExists           = errors.New("identity already exists")
	ErrCredentialNotFound       = errors.New("credential not found")
	ErrIdentityRedisUnavailable = errors.New("identity redis unavailable")
)

// createIdentityLua inserts the identity hash and, optionally, its credential.
// KEYS[1] = identity key, KEYS[2] = credential key
// ARGV[1] = id, ARGV[2] = role, ARGV[3] = token version, ARGV[4] = created unix ms
// ARGV[5] = password hash (may be empty)
var createIdentityLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='exists'}
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'role', ARGV[2], 'tv', ARGV[3], 'created', ARGV[4])
if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[2], 'hash', ARGV[5], 'updated', ARGV[4])
end
return 1
`)

// setCredentialLua replaces the credential and bumps the token version.
// KEYS[1] = identity key, KEYS[2] = credential key
// ARGV[1] = password hash, ARGV[2] = updated unix ms
var setCredentialLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
redis.call('HSET', KEYS[2], 'hash', ARGV[1], 'updated', ARGV[2])
return redis.call('HINCRBY', KEYS[1], 'tv', 1)
`)

// updateHashLua rewrites the hash of an existing credential.
// KEYS[1] = credential key
// ARGV[1] = password hash, ARGV[2] = updated unix ms
var updateHashLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
redis.call('HSET', KEYS[1], 'hash', ARGV[1], 'updated', ARGV[2])
return 1
`)

// bumpVersionLua increments the token version of an existing identity.
// KEYS[1] = identity key
var bumpVersionLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
return redis.call('HINCRBY', KEYS[1], 'tv', 1)
`)

type IdentityRecord struct {
	ID           string
	Key          string
	Role         string
	TokenVersion uint32
	CreatedAt    time.Time
}

type CredentialRecord struct {
	IdentityKey  string
	PasswordHash string
	UpdatedAt    time.Time
}

// IdentityStore keeps identities and credentials as Redis hashes. Both keys of one
// identity share a hash tag so the scripts stay valid on a cluster.
type IdentityStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewIdentityStore(redisClient redis.UniversalClient, prefix string) *IdentityStore {
	if prefix == "" {
		prefix = "pci"
	}
	return &IdentityStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *IdentityStore) identityKey(key string) string {
	return s.prefix + ":{" + key + "}:identity"
}

func (s *IdentityStore) credentialKey(key string) string {
	return s.prefix + ":{" + key + "}:credential"
}

func (s *IdentityStore) Get(ctx context.Context, key string) (*IdentityRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.identityKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrIdentityNotFound
	}

	tv, err := strconv.ParseUint(fields["tv"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt token version", ErrIdentityRedisUnavailable)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created timestamp", ErrIdentityRedisUnavailable)
	}

	return &IdentityRecord{
		ID:           fields["id"],
		Key:          key,
		Role:         fields["role"],
		TokenVersion: uint32(tv),
		CreatedAt:    time.UnixMilli(created),
	}, nil
}

// Create inserts record and, when passwordHash is non-empty, its credential. It returns
// ErrIdentityExists if the key is taken.
func (s *IdentityStore) Create(ctx context.Context, record *IdentityRecord, passwordHash string) error {
	err := createIdentityLua.Run(ctx, s.redis,
		[]string{s.identityKey(record.Key), s.credentialKey(record.Key)},
		record.ID,
		record.Role,
		record.TokenVersion,
		record.CreatedAt.UnixMilli(),
		passwordHash,
	).Err()
	if err != nil {
		if err.Error() == "exists" {
			return ErrIdentityExists
		}
		return fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	return nil
}

func (s *IdentityStore) GetCredential(ctx context.Context, key string) (*CredentialRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.credentialKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	if len(fields) == 0 || fields["hash"] == "" {
		return nil, ErrCredentialNotFound
	}

	updated, _ := strconv.ParseInt(fields["updated"], 10, 64)
	return &CredentialRecord{
		IdentityKey:  key,
		PasswordHash: fields["hash"],
		UpdatedAt:    time.UnixMilli(updated),
	}, nil
}

// SetCredential replaces the credential of an existing identity and returns the bumped
// token version.
func (s *IdentityStore) SetCredential(ctx context.Context, record *CredentialRecord) (uint32, error) {
	tv, err := setCredentialLua.Run(ctx, s.redis,
		[]string{s.identityKey(record.IdentityKey), s.credentialKey(record.IdentityKey)},
		record.PasswordHash,
		record.UpdatedAt.UnixMilli(),
	).Int64()
	if err != nil {
		if err.Error() == "not_found" {
			return 0, ErrIdentityNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	return uint32(tv), nil
}

// UpdatePasswordHash replaces the hash of an existing credential. The token version is
// left alone.
func (s *IdentityStore) UpdatePasswordHash(ctx context.Context, record *CredentialRecord) error {
	err := updateHashLua.Run(ctx, s.redis,
		[]string{s.credentialKey(record.IdentityKey)},
		record.PasswordHash,
		record.UpdatedAt.UnixMilli(),
	).Err()
	if err != nil {
		if err.Error() == "not_found" {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	return nil
}

// BumpTokenVersion increments the token version and returns the new value.
func (s *IdentityStore) BumpTokenVersion(ctx context.Context, key string) (uint32, error) {
	tv, err := bumpVersionLua.Run(ctx, s.redis, []string{s.identityKey(key)}).Int64()
	if err != nil {
		if err.Error() == "not_found" {
			return 0, ErrIdentityNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrIdentityRedisUnavailable, err)
	}
	return uint32(tv), nil
}
