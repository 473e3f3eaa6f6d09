package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/scy"
)

// TokenSource resolves a bearer token on demand.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a func to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// SecretTokenSource loads the bearer token from an encrypted secret URL.
type SecretTokenSource struct {
	SourceURL string
	Key       string

	scyService *scy.Service
	once       sync.Once
	token      string
	err        error
}

var _ TokenSource = (*SecretTokenSource)(nil)

// NewSecretTokenSource creates a token source for an encrypted secret URL,
// e.g. "scy://secrets/backend.enc" with key "blowfish://default".
func NewSecretTokenSource(sourceURL, key string) *SecretTokenSource {
	return &SecretTokenSource{SourceURL: sourceURL, Key: key, scyService: scy.New()}
}

// Token loads and caches the secret.
func (s *SecretTokenSource) Token(ctx context.Context) (string, error) {
	s.once.Do(func() {
		resource := scy.NewResource(nil, s.SourceURL, s.Key)
		secret, err := s.scyService.Load(ctx, resource)
		if err != nil {
			s.err = fmt.Errorf("failed to load token from %s: %w", s.SourceURL, err)
			return
		}
		s.token = strings.TrimSpace(secret.String())
	})
	return s.token, s.err
}
