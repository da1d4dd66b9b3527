package revalidation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures a KafkaQueue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// GroupID is the consumer group; required to receive.
	GroupID string

	// MaxAttempts bounds Send retries on transient errors. Defaults to 3.
	MaxAttempts  int
	WriteTimeout time.Duration
	// Balancer decides partition selection. Defaults to a key Hash balancer,
	// so every message of a grouping key lands on one partition.
	Balancer kafka.Balancer
	// Visibility hides a delivery from Receive until it is deleted or the
	// interval passes. Defaults to DefaultVisibility.
	Visibility time.Duration
	Now        func() time.Time
	Logger     hclog.Logger
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue runs the pipeline over a Kafka topic. Ordering per grouping key
// comes from per-partition ordering. The reader never rewinds, so fetched
// messages stay buffered in process until deleted: an expired delivery is
// handed out again, and later messages of its group wait behind it. Delete
// commits only the contiguous acknowledged prefix of each partition, so
// anything unacknowledged is also delivered again after a restart or
// rebalance.
type KafkaQueue struct {
	writer      kafkaWriter
	reader      kafkaReader
	brokers     []string
	topic       string
	maxAttempts int
	visibility  time.Duration
	now         func() time.Time
	logger      hclog.Logger

	mu sync.Mutex
	// entries holds undeleted messages in fetch order.
	entries  []*kafkaEntry
	receipts map[string]*kafkaEntry
	// fetched holds uncommitted offsets per partition in fetch order.
	fetched map[int][]int64
	acked   map[int]map[int64]bool
}

type kafkaEntry struct {
	memEntry
	partition int
	offset    int64
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	var r kafkaReader
	if cfg.GroupID != "" {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return newKafkaQueue(w, r, cfg), nil
}

func newKafkaQueue(w kafkaWriter, r kafkaReader, cfg KafkaConfig) *KafkaQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = DefaultVisibility
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &KafkaQueue{
		writer:      w,
		reader:      r,
		brokers:     cfg.Brokers,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
		visibility:  cfg.Visibility,
		now:         cfg.Now,
		logger:      logger.Named("kafka"),
		receipts:    map[string]*kafkaEntry{},
		fetched:     map[int][]int64{},
		acked:       map[int]map[int64]bool{},
	}
}

func (q *KafkaQueue) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	value, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	km := kafka.Message{Key: []byte(msg.Group()), Value: value, Time: time.Now().UTC()}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := q.writer.WriteMessages(attemptCtx, km)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == q.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", q.maxAttempts, lastErr)
}

// Receive first redelivers buffered messages whose visibility expired, then
// fetches new ones. A fetched message whose group still has a delivery in
// flight is buffered behind it instead of being delivered. After the first
// message arrives it waits only briefly for the rest of the batch.
func (q *KafkaQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if q.reader == nil {
		return nil, fmt.Errorf("kafka: no consumer group configured")
	}
	if max <= 0 {
		max = 1
	}
	out, locked := q.redeliver(max)
	deadline := time.Now().Add(wait)
	if len(out) > 0 {
		deadline = earliest(deadline, time.Now().Add(50*time.Millisecond))
	}
	for len(out) < max {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		km, err := q.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			return out, fmt.Errorf("kafka fetch: %w", err)
		}
		msg, err := decodeMessage(km.Value)
		if err != nil {
			q.logger.Warn("dropping undecodable message", "partition", km.Partition, "offset", km.Offset, "error", err)
			q.mu.Lock()
			q.fetched[km.Partition] = append(q.fetched[km.Partition], km.Offset)
			commit := q.ackLocked(km.Partition, km.Offset)
			q.mu.Unlock()
			if err := q.commit(ctx, km.Partition, commit); err != nil {
				return out, err
			}
			continue
		}
		d, ok := q.buffer(msg, km, locked)
		if !ok {
			q.logger.Debug("holding message behind an unacknowledged one", "group", msg.Group(), "offset", km.Offset)
			continue
		}
		out = append(out, d)
		deadline = earliest(deadline, time.Now().Add(50*time.Millisecond))
	}
	return out, nil
}

// redeliver hands out buffered entries of groups with nothing in flight, in
// fetch order. It returns the groups that were locked when it was called.
func (q *KafkaQueue) redeliver(max int) ([]Delivery, map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
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
		out = append(out, q.deliverLocked(e, now))
	}
	return out, locked
}

// buffer records a fetched message and delivers it unless its group is locked.
func (q *KafkaQueue) buffer(msg Message, km kafka.Message, locked map[string]bool) (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetched[km.Partition] = append(q.fetched[km.Partition], km.Offset)
	e := &kafkaEntry{memEntry: memEntry{msg: msg}, partition: km.Partition, offset: km.Offset}
	q.entries = append(q.entries, e)
	if locked[msg.Group()] {
		return Delivery{}, false
	}
	return q.deliverLocked(e, q.now()), true
}

func (q *KafkaQueue) deliverLocked(e *kafkaEntry, now time.Time) Delivery {
	if e.receipt != "" {
		delete(q.receipts, e.receipt)
	}
	e.receives++
	e.receipt = formatReceipt(e.partition, e.offset, e.receives)
	e.invisibleUntil = now.Add(q.visibility)
	q.receipts[e.receipt] = e
	return Delivery{Message: e.msg, Receipt: e.receipt, ReceiveCount: e.receives}
}

// Delete acknowledges the delivery and commits every offset of its partition
// up to the first one still unacknowledged.
func (q *KafkaQueue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	e, ok := q.receipts[receipt]
	if !ok {
		q.mu.Unlock()
		return ErrInvalidReceipt
	}
	delete(q.receipts, receipt)
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	commit := q.ackLocked(e.partition, e.offset)
	q.mu.Unlock()
	return q.commit(ctx, e.partition, commit)
}

// ackLocked marks offset acknowledged and returns the highest offset of the
// contiguous acknowledged prefix, or -1 when the prefix did not move.
func (q *KafkaQueue) ackLocked(partition int, offset int64) int64 {
	if q.acked[partition] == nil {
		q.acked[partition] = map[int64]bool{}
	}
	q.acked[partition][offset] = true

	commit := int64(-1)
	offsets := q.fetched[partition]
	for len(offsets) > 0 && q.acked[partition][offsets[0]] {
		commit = offsets[0]
		delete(q.acked[partition], offsets[0])
		offsets = offsets[1:]
	}
	q.fetched[partition] = offsets
	return commit
}

func (q *KafkaQueue) commit(ctx context.Context, partition int, offset int64) error {
	if offset < 0 {
		return nil
	}
	if err := q.reader.CommitMessages(ctx, kafka.Message{Topic: q.topic, Partition: partition, Offset: offset}); err != nil {
		return fmt.Errorf("kafka commit %d:%d: %w", partition, offset, err)
	}
	return nil
}

// ExtendVisibility keeps an in-flight delivery, and with it every later
// message of its group, away from Receive for d.
func (q *KafkaQueue) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	e, ok := q.receipts[receipt]
	if !ok || !e.inFlight(now) {
		return ErrInvalidReceipt
	}
	e.invisibleUntil = now.Add(d)
	return nil
}

// Buffered is the number of fetched messages not yet acknowledged.
func (q *KafkaQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *KafkaQueue) Close() error {
	var errs []error
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	return errors.Join(errs...)
}

// Ping dials the first reachable broker and reads the topic's partitions.
func (q *KafkaQueue) Ping(ctx context.Context) error {
	if len(q.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	var errs []error
	for _, b := range q.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.ReadPartitions(q.topic)
		conn.Close()
		if err != nil {
			return fmt.Errorf("kafka: read partitions of %s: %w", q.topic, err)
		}
		return nil
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

func formatReceipt(partition int, offset int64, receives int) string {
	return strconv.Itoa(partition) + ":" + strconv.FormatInt(offset, 10) + "#" + strconv.Itoa(receives)
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
