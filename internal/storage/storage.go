// Package storage defines the sentinel errors shared by the store
// implementations. The store interfaces themselves live with their consumers
// (subscription.Store, delivery.Store, outbox.Store, ...); the postgres and
// memory subpackages implement all of them.
package storage

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness guarantee.
	ErrDuplicate = errors.New("storage: duplicate")
)
