// Package keyring stores workspace keys outside the session file so a
// login can be replayed later without pasting the key again. The default
// setup prefers pass(1) and falls back to plain files for machines
// without a password store.
package keyring

import (
	"context"
	"errors"
	"fmt"
)

// Store persists named secrets. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// Chain tries a primary store and falls back to a second one when the
// primary fails for any reason other than context cancellation.
type Chain struct {
	primary  Store
	fallback Store
}

var _ Store = (*Chain)(nil)

var (
	errNilPrimaryStore  = errors.New("primary key store is nil")
	errNilFallbackStore = errors.New("fallback key store is nil")
)

func NewChain(primary Store, fallback Store) (*Chain, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Chain{primary: primary, fallback: fallback}, nil
}

// Default chains the pass(1) store with a file store rooted at fileRoot.
func Default(fileRoot string) (*Chain, error) {
	return NewChain(NewPassStore(), NewFileStore(fileRoot))
}

func (c *Chain) Put(ctx context.Context, key string, value string) error {
	err := c.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := c.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary key store put failed: %w; fallback key store put failed: %w", err, fallbackErr)
}

func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	value, err := c.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}

	fallbackValue, fallbackErr := c.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}

	return "", fmt.Errorf("primary key store get failed: %w; fallback key store get failed: %w", err, fallbackErr)
}

func (c *Chain) Delete(ctx context.Context, key string) error {
	err := c.primary.Delete(ctx, key)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := c.fallback.Delete(ctx, key)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary key store delete failed: %w; fallback key store delete failed: %w", err, fallbackErr)
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
