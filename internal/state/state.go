package state

import (
	"fmt"
	"sync"
)

// SeenSet remembers order ids across the whole input so duplicate detection
// never depends on batch boundaries.
type SeenSet interface {
	// Add records id and reports whether it was new.
	Add(id string) (bool, error)
	Len() int
	Close() error
}

// Open returns a SeenSet for the named backend ("memory" or "pebble").
// dir is only used by pebble; an empty dir means a private temp directory.
func Open(backend, dir string) (SeenSet, error) {
	switch backend {
	case "", "memory":
		return NewInMemorySet(), nil
	case "pebble":
		return NewPebbleSet(dir)
	default:
		return nil, fmt.Errorf("unsupported dedupe store: %s", backend)
	}
}

// InMemorySet is a map-backed SeenSet.
type InMemorySet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemorySet() *InMemorySet {
	return &InMemorySet{seen: make(map[string]struct{})}
}

func (s *InMemorySet) Add(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = struct{}{}
	return true, nil
}

func (s *InMemorySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *InMemorySet) Close() error { return nil }
