package stores

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

var (
	ErrTokenNotFound = errors.New("token copy not found")
	ErrTokenMismatch = errors.New("token copy mismatch")
	ErrTokenBackend  = errors.New("token backend unavailable")
)

// TokenStore keeps a digest of every issued token so that deleting the copy
// revokes the token regardless of its signature.
type TokenStore struct {
	store store.Store
}

func NewTokenStore(s store.Store) *TokenStore {
	return &TokenStore{store: s}
}

func (s *TokenStore) Save(ctx context.Context, key, token string, ttl time.Duration) error {
	digest := sha256.Sum256([]byte(token))
	if err := s.store.SetWithTTL(ctx, key, digest[:], ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return nil
}

// Verify checks that an identical copy of token is still stored at key.
func (s *TokenStore) Verify(ctx context.Context, key, token string) error {
	stored, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	digest := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(stored, digest[:]) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return nil
}
