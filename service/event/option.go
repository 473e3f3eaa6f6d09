package event

import (
	"github.com/luxera/rungate/service/messaging/fs"
	"github.com/luxera/rungate/service/messaging/memory"
)

type Option func(s *Service)

// WithFsQueueConfig sets the per-topic file system queue configuration.
func WithFsQueueConfig(newConfig func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsQueueConfig = newConfig
	}
}

// WithMemoryQueueConfig sets the per-topic memory queue configuration.
func WithMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memQueueConfig = newConfig
	}
}
