// Package store provides durable storage for serialized application state.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed repository.
var ErrClosed = errors.New("store closed")

// Slot is a single named payload with its last write time in Unix milliseconds.
type Slot struct {
	Name      string
	Payload   []byte
	UpdatedAt int64
}

// Repository defines the interface for persisting named state slots.
type Repository interface {
	// GetSlot retrieves a slot by name. A missing slot yields (nil, nil).
	GetSlot(ctx context.Context, name string) (*Slot, error)

	// PutSlot creates or overwrites a slot.
	PutSlot(ctx context.Context, name string, payload []byte) error

	// DeleteSlot removes a slot. Removing a missing slot is not an error.
	DeleteSlot(ctx context.Context, name string) error

	// DeleteLegacySlots removes slots written by older releases and returns
	// how many were deleted.
	DeleteLegacySlots(ctx context.Context, names ...string) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
