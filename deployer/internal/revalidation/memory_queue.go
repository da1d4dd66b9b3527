package revalidation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueueConfig tunes a MemoryQueue. Zero values take the defaults.
type MemoryQueueConfig struct {
	Visibility time.Duration
	// DedupWindow drops a message whose content was already sent within the
	// window. Zero disables deduplication.
	DedupWindow time.Duration
	Now         func() time.Time
}

type memEntry struct {
	msg            Message
	receipt        string
	invisibleUntil time.Time
	receives       int
}

// MemoryQueue is an in-process FIFO queue with per-group ordering: while any
// message of a group is in flight, no other message of that group is
// delivered. Groups are independent; there is no global order.
type MemoryQueue struct {
	mu       sync.Mutex
	cfg      MemoryQueueConfig
	entries  []*memEntry
	receipts map[string]*memEntry
	dedup    map[string]time.Time
	notify   chan struct{}
	closed   bool
}

func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	if cfg.Visibility <= 0 {
		cfg.Visibility = DefaultVisibility
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryQueue{
		cfg:      cfg,
		receipts: map[string]*memEntry{},
		dedup:    map[string]time.Time{},
		notify:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	now := q.cfg.Now()
	if q.cfg.DedupWindow > 0 {
		for id, sent := range q.dedup {
			if now.Sub(sent) >= q.cfg.DedupWindow {
				delete(q.dedup, id)
			}
		}
		id := msg.DedupID()
		if _, ok := q.dedup[id]; ok {
			return nil
		}
		q.dedup[id] = now
	}
	q.entries = append(q.entries, &memEntry{msg: msg})
	q.wakeLocked()
	return nil
}

// wakeLocked releases every Receive waiting for the queue to change.
func (q *MemoryQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	out, notify, err := q.take(max)
	if err != nil || len(out) > 0 || wait <= 0 {
		return out, err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	case <-notify:
	}
	out, _, err = q.take(max)
	return out, err
}

func (q *MemoryQueue) take(max int) ([]Delivery, chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil, ErrClosed
	}
	now := q.cfg.Now()

	locked := map[string]bool{}
	for _, e := range q.entries {
		if e.inFlight(now) {
			locked[e.msg.Group()] = true
		}
	}
	var out []Delivery
	for _, e := range q.entries {
		if len(out) == max {
			break
		}
		if locked[e.msg.Group()] {
			continue
		}
		if e.receipt != "" {
			delete(q.receipts, e.receipt)
		}
		e.receipt = uuid.NewString()
		e.invisibleUntil = now.Add(q.cfg.Visibility)
		e.receives++
		q.receipts[e.receipt] = e
		out = append(out, Delivery{Message: e.msg, Receipt: e.receipt, ReceiveCount: e.receives})
	}
	return out, q.notify, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	e, ok := q.receipts[receipt]
	if !ok {
		return ErrInvalidReceipt
	}
	delete(q.receipts, receipt)
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	q.wakeLocked()
	return nil
}

func (q *MemoryQueue) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	e, ok := q.receipts[receipt]
	if !ok || !e.inFlight(q.cfg.Now()) {
		return ErrInvalidReceipt
	}
	e.invisibleUntil = q.cfg.Now().Add(d)
	return nil
}

// Ping fails once the queue is closed.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len is the number of undeleted messages, in flight or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns the undeleted messages in send order.
func (q *MemoryQueue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.msg)
	}
	return out
}

func (e *memEntry) inFlight(now time.Time) bool {
	return e.receipt != "" && now.Before(e.invisibleUntil)
}
