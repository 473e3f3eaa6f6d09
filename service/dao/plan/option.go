package plan

import "github.com/viant/afs"

// Option represents a plan service option.
type Option func(*Service)

// WithFS sets the afs service used to fetch plan documents.
func WithFS(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithBaseURL sets the base URL relative plan locations resolve against.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.baseURL = baseURL
	}
}
