// Package sequencer issues globally unique, monotonically increasing id
// ranges. The high water mark is durable in bbolt and is bumped in steps, so
// most allocations are a fetch-and-add without a disk write. The durable mark
// never rolls back: after a crash the next range starts at the last persisted
// high water, past everything ever issued.
package sequencer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/JackDrogon/sekas/errs"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const DefaultStep = 1024

var bucketName = []byte("sequences")

type counter struct {
	next uint64 // first unissued id
	max  uint64 // durable high water (exclusive)
}

type Sequencer struct {
	logger *zap.Logger
	step   uint64

	mu       sync.Mutex
	db       *bbolt.DB
	counters map[string]*counter
	closed   bool
}

// Open opens (or creates) the sequence store at path. step controls how far
// the durable high water is bumped ahead of demand.
func Open(path string, step uint64, logger *zap.Logger) (*Sequencer, error) {
	if step == 0 {
		step = DefaultStep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open sequence store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Sequencer{
		logger:   logger,
		step:     step,
		db:       db,
		counters: make(map[string]*counter),
	}, nil
}

// AllocRange reserves count ids under key and returns the first. The range
// [base, base+count) has never been returned before and never will be again,
// even across restarts. Issued ids start at 1; 0 stays an invalid id.
func (s *Sequencer) AllocRange(key string, count uint64) (base uint64, err error) {
	if count == 0 {
		return 0, errs.ErrMissingField("count")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.ErrSequencerClosed
	}
	c, err := s.counterLocked(key)
	if err != nil {
		return 0, err
	}
	if c.next+count > c.max {
		bump := s.step
		if count > bump {
			bump = count
		}
		newMax := c.next + bump
		if err := s.saveMax(key, newMax); err != nil {
			return 0, errs.ErrSequencerBump(err)
		}
		c.max = newMax
		s.logger.Debug("bumped durable high water", zap.String("key", key), zap.Uint64("max", newMax))
	}
	base = c.next
	c.next += count
	return base, nil
}

// counterLocked loads the durable high water on first use of a key. next
// resumes at the persisted max: ids below it may have been issued before a
// restart and are burned.
func (s *Sequencer) counterLocked(key string) (*counter, error) {
	if c, ok := s.counters[key]; ok {
		return c, nil
	}
	var max uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(key)); v != nil {
			max = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	next := max
	if next == 0 {
		next = 1
	}
	c := &counter{next: next, max: max}
	s.counters[key] = c
	return c, nil
}

func (s *Sequencer) saveMax(key string, max uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], max)
		return tx.Bucket(bucketName).Put([]byte(key), buf[:])
	})
}

func (s *Sequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
