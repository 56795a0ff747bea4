// Package kv provides the durable key/value keyspace the version store is
// written against, with interchangeable backends.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// KVPair is a key and its stored value.
type KVPair struct {
	Key   string
	Value []byte
}

// Store defines the key/value operations a backend must provide.
type Store interface {
	// Get retrieves the value for the given key.
	// Returns ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for the given key, replacing any prior value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the given key.
	// It is not an error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all pairs whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]KVPair, error)

	// Close releases the backend's resources.
	Close() error
}

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("store closed")
)

// Prefixed is a view of a Store confined to keys under a fixed prefix.
// Keys passed to and returned from a Prefixed store are relative to it.
type Prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix returns a view of s scoped to prefix. Closing the view does not
// close s.
func WithPrefix(s Store, prefix string) *Prefixed {
	return &Prefixed{inner: s, prefix: prefix}
}

func (p *Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *Prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *Prefixed) List(ctx context.Context, prefix string) ([]KVPair, error) {
	pairs, err := p.inner.List(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].Key = strings.TrimPrefix(pairs[i].Key, p.prefix)
	}
	return pairs, nil
}

// Close is a no-op; the underlying store is owned by whoever created it.
func (p *Prefixed) Close() error { return nil }

func sortPairs(pairs []KVPair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
}
