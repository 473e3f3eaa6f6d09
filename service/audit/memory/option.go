package memory

import (
	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/messaging"
)

type Option func(*service)

// WithQueue replaces the default in-memory fan-out queue, e.g. with an
// fs-backed queue so that decision notifications survive restarts.
func WithQueue(q messaging.Queue[audit.Event]) Option {
	return func(s *service) { s.events = q }
}
