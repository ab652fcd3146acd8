// Package watch fans out directory changes to subscribers as ordered event
// streams. Each subscriber has its own bounded queue; a subscriber that falls
// behind is dropped and must resubscribe with a fresh cursor. Partial or
// reordered delivery is never substituted for dropping.
package watch

import (
	"context"
	"sync"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ChangeRecord is one committed directory mutation: the revision it produced
// and the events it emitted. The hub retains a bounded log of recent records.
type ChangeRecord struct {
	Revision uint64
	Updates  []protocol.UpdateEvent
	Deletes  []protocol.DeleteEvent
}

const (
	DefaultQueueDepth   = 128
	defaultChangeLogCap = 1024
)

type Hub struct {
	logger     *zap.Logger
	queueDepth int

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Watcher
	log    []ChangeRecord // bounded, newest last

	subscribers prometheus.Gauge // optional
}

func NewHub(queueDepth int, logger *zap.Logger) *Hub {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		queueDepth: queueDepth,
		subs:       make(map[uint64]*Watcher),
	}
}

// SetSubscriberGauge wires an optional gauge tracking live subscribers.
func (h *Hub) SetSubscriberGauge(g prometheus.Gauge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = g
}

// Subscribe registers a new watcher whose first delivered batch is init.
// The caller (the directory) invokes this under its commit lock, so no
// notification can slip between the catch-up snapshot and registration.
func (h *Hub) Subscribe(init *protocol.WatchResponse) *Watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	w := &Watcher{
		hub:  h,
		id:   h.nextID,
		ch:   make(chan *protocol.WatchResponse, h.queueDepth),
		done: make(chan struct{}),
	}
	w.ch <- init
	h.subs[w.id] = w
	if h.subscribers != nil {
		h.subscribers.Inc()
	}
	return w
}

// Notify appends the record to the change log and pushes its events to every
// subscriber. Called under the directory's commit lock; must never block, so
// a full queue drops that subscriber instead of waiting.
func (h *Hub) Notify(rec ChangeRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, rec)
	if len(h.log) > defaultChangeLogCap {
		h.log = h.log[len(h.log)-defaultChangeLogCap:]
	}
	batch := &protocol.WatchResponse{Updates: rec.Updates, Deletes: rec.Deletes}
	for id, w := range h.subs {
		select {
		case w.ch <- batch:
		default:
			h.logger.Warn("watcher queue overflow, dropping subscriber", zap.Uint64("watcher", id))
			delete(h.subs, id)
			w.terminate(errs.ErrWatcherDropped)
			if h.subscribers != nil {
				h.subscribers.Dec()
			}
		}
	}
}

// ChangesSince returns retained change records with revision > rev, oldest
// first. ok is false when the log no longer reaches back that far.
func (h *Hub) ChangesSince(rev uint64) (recs []ChangeRecord, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.log) == 0 {
		return nil, true
	}
	if h.log[0].Revision > rev+1 {
		return nil, false
	}
	for _, rec := range h.log {
		if rec.Revision > rev {
			recs = append(recs, rec)
		}
	}
	return recs, true
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		if h.subscribers != nil {
			h.subscribers.Dec()
		}
	}
}

// NumSubscribers reports live subscriber count (for tests and introspection).
func (h *Hub) NumSubscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Watcher is one subscriber's ordered stream of event batches.
type Watcher struct {
	hub  *Hub
	id   uint64
	ch   chan *protocol.WatchResponse
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Next returns the next event batch in commit order. Queued batches are
// drained even after the watcher has been dropped; the terminal error is
// returned once the queue is empty.
func (w *Watcher) Next(ctx context.Context) (*protocol.WatchResponse, error) {
	select {
	case batch := <-w.ch:
		return batch, nil
	default:
	}
	select {
	case batch := <-w.ch:
		return batch, nil
	case <-w.done:
		// A batch may have raced in just before termination.
		select {
		case batch := <-w.ch:
			return batch, nil
		default:
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		return nil, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the watcher's queue and stops delivery. Safe to call more
// than once.
func (w *Watcher) Close() {
	w.hub.unsubscribe(w.id)
	w.terminate(errs.ErrWatcherClosed)
}

func (w *Watcher) terminate(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	w.err = err
	close(w.done)
}
