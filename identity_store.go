package goPasscode

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/redis/go-redis/v9"
)

// RedisIdentityStore keeps identities and credentials in Redis hashes. Creation is
// guarded by a Lua EXISTS check, so concurrent creates for one key have one winner.
type RedisIdentityStore struct {
	store *stores.IdentityStore
}

var _ IdentityStore = (*RedisIdentityStore)(nil)

// NewRedisIdentityStore returns a store using prefix for its keys ("pci" when empty).
func NewRedisIdentityStore(client redis.UniversalClient, prefix string) *RedisIdentityStore {
	return &RedisIdentityStore{store: stores.NewIdentityStore(client, prefix)}
}

func (s *RedisIdentityStore) GetIdentity(ctx context.Context, key string) (Identity, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return Identity{}, mapIdentityStoreError(err)
	}
	return Identity{
		ID:           rec.ID,
		Key:          rec.Key,
		Role:         rec.Role,
		TokenVersion: rec.TokenVersion,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s *RedisIdentityStore) CreateIdentity(ctx context.Context, identity Identity, credential *Credential) error {
	var hash string
	if credential != nil {
		hash = credential.PasswordHash
	}
	err := s.store.Create(ctx, &stores.IdentityRecord{
		ID:           identity.ID,
		Key:          identity.Key,
		Role:         identity.Role,
		TokenVersion: identity.TokenVersion,
		CreatedAt:    identity.CreatedAt,
	}, hash)
	if err != nil {
		return mapIdentityStoreError(err)
	}
	return nil
}

func (s *RedisIdentityStore) GetCredential(ctx context.Context, key string) (Credential, error) {
	rec, err := s.store.GetCredential(ctx, key)
	if err != nil {
		return Credential{}, mapIdentityStoreError(err)
	}
	return Credential{
		IdentityKey:  rec.IdentityKey,
		PasswordHash: rec.PasswordHash,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (s *RedisIdentityStore) SetCredential(ctx context.Context, credential Credential) (uint32, error) {
	tv, err := s.store.SetCredential(ctx, &stores.CredentialRecord{
		IdentityKey:  credential.IdentityKey,
		PasswordHash: credential.PasswordHash,
		UpdatedAt:    credential.UpdatedAt,
	})
	if err != nil {
		return 0, mapIdentityStoreError(err)
	}
	return tv, nil
}

func (s *RedisIdentityStore) UpdatePasswordHash(ctx context.Context, credential Credential) error {
	err := s.store.UpdatePasswordHash(ctx, &stores.CredentialRecord{
		IdentityKey:  credential.IdentityKey,
		PasswordHash: credential.PasswordHash,
		UpdatedAt:    credential.UpdatedAt,
	})
	if err != nil {
		return mapIdentityStoreError(err)
	}
	return nil
}

func (s *RedisIdentityStore) BumpTokenVersion(ctx context.Context, key string) (uint32, error) {
	tv, err := s.store.BumpTokenVersion(ctx, key)
	if err != nil {
		return 0, mapIdentityStoreError(err)
	}
	return tv, nil
}

func mapIdentityStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrIdentityNotFound):
		return ErrIdentityNotFound
	case errors.Is(err, stores.ErrIdentityExists):
		return ErrIdentityConflict
	case errors.Is(err, stores.ErrCredentialNotFound):
		return ErrCredentialNotFound
	default:
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
}
