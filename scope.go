package rewire

import (
	"context"
	"fmt"
	"sync"
)

// Scope is a resource held for a whole lifecycle session.
type Scope interface {
	Enter(ctx context.Context) error
	Exit(ctx context.Context) error
}

// ScopeFunc acquires a resource and returns the function releasing it.
type ScopeFunc func(ctx context.Context) (release func(ctx context.Context) error, err error)

type funcScope struct {
	name    string
	acquire ScopeFunc

	mu      sync.Mutex
	release func(ctx context.Context) error
}

// NewScope adapts an acquire function into a Scope.
func NewScope(name string, acquire ScopeFunc) Scope {
	return &funcScope{name: name, acquire: acquire}
}

func (s *funcScope) Name() string { return s.name }

func (s *funcScope) Enter(ctx context.Context) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.release = release
	s.mu.Unlock()
	return nil
}

func (s *funcScope) Exit(ctx context.Context) error {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release == nil {
		return nil
	}
	return release(ctx)
}

func scopeName(s Scope) string {
	if named, ok := s.(interface{ Name() string }); ok && named.Name() != "" {
		return named.Name()
	}
	return fmt.Sprintf("%T", s)
}
