package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleSet keeps seen ids on disk so memory stays flat on very large inputs.
type PebbleSet struct {
	db    *pebble.DB
	dir   string
	count int
}

// NewPebbleSet opens a fresh set in a new directory under parent (the system
// temp dir when empty). The directory is removed again on Close, so ids never
// leak from one run into the next.
func NewPebbleSet(parent string) (*PebbleSet, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("pebble parent dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "orderpipe-seen-*")
	if err != nil {
		return nil, fmt.Errorf("pebble temp dir: %w", err)
	}
	opts := &pebble.Options{
		// Ids are written once and never read back after the run.
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
		DisableWAL:            true,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleSet{db: db, dir: dir}, nil
}

func (p *PebbleSet) Add(id string) (bool, error) {
	key := append([]byte("seen/"), id...)
	_, closer, err := p.db.Get(key)
	if err == nil {
		_ = closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("pebble get: %w", err)
	}
	if err := p.db.Set(key, nil, pebble.NoSync); err != nil {
		return false, fmt.Errorf("pebble set: %w", err)
	}
	p.count++
	return true, nil
}

func (p *PebbleSet) Len() int { return p.count }

func (p *PebbleSet) Close() error {
	return errors.Join(p.db.Close(), os.RemoveAll(p.dir))
}
