package refdata

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store holds the current snapshot. Readers never block; reloads are
// serialized and publish a whole new snapshot.
type Store struct {
	src Source
	log *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// Open loads src into a new store. A load error is returned alongside a
// usable store serving whatever could be decoded.
func Open(src Source, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{src: src, log: log.Named("refdata")}
	snap, err := Load(src, s.log)
	s.publish(snap)
	return s, err
}

// NewStore wraps an already built snapshot.
func NewStore(snap *Snapshot) *Store {
	s := &Store{log: zap.NewNop()}
	if snap == nil {
		snap = EmptySnapshot()
	}
	s.publish(snap)
	return s
}

func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Version increases each time a snapshot is published.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) Source() Source {
	return s.src
}

// Reload re-reads the source. On failure the current snapshot stays in
// place and the error is returned.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := Load(s.src, s.log)
	if err != nil {
		s.log.Warn("reload rejected, keeping previous snapshot", zap.Error(err))
		return err
	}
	s.publish(snap)
	s.log.Info("reference data reloaded", zap.Uint64("version", s.Version()))
	return nil
}

// Swap publishes snap as the current snapshot.
func (s *Store) Swap(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(snap)
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	s.version.Add(1)
}
