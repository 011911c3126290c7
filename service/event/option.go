package event

import (
	"log/slog"

	"github.com/viant/afs"
	"github.com/viant/hitloop/service/messaging/fs"
	"github.com/viant/hitloop/service/messaging/memory"
)

// Option customises Service
type Option func(s *Service)

// WithFsQueueConfig sets the file system queue configuration provider
func WithFsQueueConfig(newConfig func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = newConfig
	}
}

// WithMemoryQueueConfig sets the memory queue configuration provider
func WithMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memNewQueueConfig = newConfig
	}
}

// WithFS sets storage service used by fs queues
func WithFS(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
