// Package clientcache memoizes authenticated vendor handles per sub-service.
//
// A handle is built the first time its kind is requested and reused after that.
// Failed builds are never stored, so the next call retries authentication.
// The cache does not detect token expiry; handles that carry expiring tokens
// must refresh themselves.
package clientcache

import (
	"context"
	"errors"
	"sync"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
)

// Builder constructs the handle for one sub-service kind.
type Builder[K comparable, H any] func(ctx context.Context, kind K) (H, error)

type entry[H any] struct {
	mu    sync.Mutex
	ready bool
	h     H
}

// Cache holds at most one live handle per kind.
type Cache[K comparable, H any] struct {
	vendor string
	build  Builder[K, H]

	mu      sync.Mutex
	entries map[K]*entry[H]
}

func New[K comparable, H any](vendor string, build Builder[K, H]) *Cache[K, H] {
	return &Cache[K, H]{
		vendor:  vendor,
		build:   build,
		entries: make(map[K]*entry[H]),
	}
}

// Get returns the cached handle for kind, building it on first use. Build
// failures are reported as *connerr.AuthenticationError unless the builder
// already returned a taxonomy error.
func (c *Cache[K, H]) Get(ctx context.Context, kind K) (H, error) {
	c.mu.Lock()
	e, ok := c.entries[kind]
	if !ok {
		e = &entry[H]{}
		c.entries[kind] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.h, nil
	}

	h, err := c.build(ctx, kind)
	if err != nil {
		var zero H
		return zero, c.wrap(err)
	}
	e.h = h
	e.ready = true
	return h, nil
}

// Built reports whether a handle for kind is currently cached.
func (c *Cache[K, H]) Built(kind K) bool {
	c.mu.Lock()
	e, ok := c.entries[kind]
	c.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Reset drops every cached handle, calling release on each one that was built.
func (c *Cache[K, H]) Reset(release func(K, H) error) error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[K]*entry[H])
	c.mu.Unlock()

	var errs []error
	for kind, e := range entries {
		e.mu.Lock()
		if e.ready && release != nil {
			if err := release(kind, e.h); err != nil {
				errs = append(errs, err)
			}
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (c *Cache[K, H]) wrap(err error) error {
	var (
		cfgErr  *connerr.ConfigurationError
		authErr *connerr.AuthenticationError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &authErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &connerr.AuthenticationError{Vendor: c.vendor, Err: err}
}
