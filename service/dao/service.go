package dao

import (
	"context"
)

// Service is the generic persistence contract used for plans, decisions and
// other keyed records. Implementations must keep per-key operations atomic.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
