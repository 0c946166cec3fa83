// Package credstore persists the small set of string entries that make up a
// client session (credential JSON, bare refresh token, cached profile).
package credstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("credstore: key not found")

// Store is a durable string key/value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetMany writes all entries atomically: either every entry is stored or none is.
	SetMany(ctx context.Context, entries map[string]string) error

	// Remove deletes keys. Keys that are not present are ignored.
	Remove(ctx context.Context, keys ...string) error
}

// StoreError indicates a failed store operation.
type StoreError struct {
	Op  string // "get", "set", "remove"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	msg := "credstore: " + e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
