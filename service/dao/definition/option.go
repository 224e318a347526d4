package definition

import "github.com/viant/afs"

type Option func(s *Service)

// WithBaseURL sets the root location relative definition URLs resolve
// against.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.baseURL = baseURL
	}
}

// WithFS overrides the file system service used for loading.
func WithFS(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}
