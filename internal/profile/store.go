package profile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Source loads raw profile bytes. Revision identifies the content so callers
// can skip recompiling unchanged documents; an empty revision forces a parse.
type Source interface {
	Load(ctx context.Context) (data []byte, revision string, err error)
	Describe() string
}

// Store holds the active snapshot and swaps it atomically on reload.
type Store struct {
	current  atomic.Pointer[Snapshot]
	source   Source
	logger   *zap.Logger
	mu       sync.Mutex
	revision string
}

// NewStore creates a store seeded with initial. source may be nil, in which
// case Reload is a no-op.
func NewStore(initial *Snapshot, source Source, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{source: source, logger: logger}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload fetches the source and swaps in the new snapshot if the content
// changed. An invalid document leaves the active snapshot untouched.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	if s.source == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, rev, err := s.source.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load profile from %s: %w", s.source.Describe(), err)
	}
	if rev != "" && rev == s.revision {
		return false, nil
	}

	snap, err := Parse(data)
	if err != nil {
		return false, fmt.Errorf("failed to parse profile from %s: %w", s.source.Describe(), err)
	}
	s.revision = rev

	prev := s.current.Load()
	if prev != nil && prev.Version == snap.Version {
		return false, nil
	}
	s.current.Store(snap)
	s.logger.Info("profile reloaded",
		zap.String("source", s.source.Describe()),
		zap.String("name", snap.Profile.Name),
		zap.String("version", snap.Version),
		zap.String("normalizer_version", snap.Normalizer.Version()),
	)
	return true, nil
}

// ProcessJobs reloads the profile on each worker tick.
func (s *Store) ProcessJobs(ctx context.Context) error {
	_, err := s.Reload(ctx)
	return err
}
