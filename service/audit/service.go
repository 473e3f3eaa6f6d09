package audit

import (
	"context"
	"errors"

	"github.com/luxera/rungate/service/messaging"
)

// Sentinel errors surfaced by audit implementations.
var (
	// ErrAlreadyDecided marks a duplicate decision for a request_id that
	// already holds an authoritative decision. The log stays unchanged.
	ErrAlreadyDecided = errors.New("audit: request already decided")

	// ErrInvalidDecision marks a decision missing its request or run id,
	// or carrying an unknown outcome.
	ErrInvalidDecision = errors.New("audit: invalid decision")
)

// Service is the append-only decision log. No update or delete operation
// exists: decisions are immutable history independent of run state.
type Service interface {
	// Append records a decision. At most one decision per request_id is
	// authoritative; a second one returns ErrAlreadyDecided and leaves
	// the log unchanged.
	Append(ctx context.Context, d *Decision) error

	// Decision returns the authoritative decision for requestID, or
	// dao.ErrNotFound.
	Decision(ctx context.Context, requestID string) (*Decision, error)

	// List returns all decisions for a run ordered by insertion time.
	List(ctx context.Context, runID string) ([]*Decision, error)

	// Queue exposes recorded decisions to subscribers.
	Queue() messaging.Queue[Event]
}
