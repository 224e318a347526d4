package dao

import (
	"context"
)

// Store is the durable, versioned persistence contract. Save enforces
// optimistic concurrency: it must be given the version the caller read and
// fails with ErrVersionConflict when the stored entity has moved on since.
// A successful Save increments the entity version.
type Store[K comparable, T any] interface {
	Save(ctx context.Context, t *T, expectedVersion int) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
