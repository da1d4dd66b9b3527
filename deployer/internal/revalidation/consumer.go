package revalidation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Regenerator rebuilds the cached page named by a message. It must be
// idempotent: a message can be delivered more than once.
type Regenerator interface {
	Regenerate(ctx context.Context, msg Message) error
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, msg Message) error

func (f RegeneratorFunc) Regenerate(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ConsumerConfig tunes a Consumer. Zero values take the defaults.
type ConsumerConfig struct {
	BatchSize   int
	ReceiveWait time.Duration
	// Concurrency bounds how many groups are processed at once.
	Concurrency int
	// Visibility is re-applied to a slow delivery every HeartbeatInterval.
	Visibility        time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	Logger            hclog.Logger
}

// BatchResult counts what happened to one received batch.
type BatchResult struct {
	Received  int
	Succeeded int
	Failed    int
	// Skipped messages followed a failure in their group and were left for redelivery.
	Skipped int
}

// Consumer drains a Queue into a Regenerator: groups run concurrently and
// messages within a group run strictly in order. It has no retry of its own;
// anything not deleted is redelivered by the queue.
type Consumer struct {
	queue  Queue
	regen  Regenerator
	cfg    ConsumerConfig
	logger hclog.Logger
}

func NewConsumer(q Queue, regen Regenerator, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ReceiveWait < 0 {
		cfg.ReceiveWait = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = DefaultVisibility
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.Visibility / 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Consumer{queue: q, regen: regen, cfg: cfg, logger: logger.Named("revalidation")}
}

// Run processes batches until ctx is cancelled, sleeping PollInterval after
// an empty receive or a receive error.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := c.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("receive batch", "error", err)
		}
		if err != nil || res.Received == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// ProcessBatch receives one batch and processes it completely.
func (c *Consumer) ProcessBatch(ctx context.Context) (BatchResult, error) {
	ctx, span := otel.Tracer("deployer/revalidation").Start(ctx, "revalidation.batch")
	defer span.End()

	deliveries, err := c.queue.Receive(ctx, c.cfg.BatchSize, c.cfg.ReceiveWait)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		return BatchResult{}, err
	}
	groups, order := groupDeliveries(deliveries)
	span.SetAttributes(
		attribute.Int("revalidation.received", len(deliveries)),
		attribute.Int("revalidation.groups", len(order)),
	)

	var (
		mu  sync.Mutex
		res = BatchResult{Received: len(deliveries)}
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.cfg.Concurrency)
	)
	for _, g := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(group []Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, failed, skipped := c.processGroup(ctx, group)
			mu.Lock()
			res.Succeeded += ok
			res.Failed += failed
			res.Skipped += skipped
			mu.Unlock()
		}(groups[g])
	}
	wg.Wait()

	if res.Failed > 0 {
		span.SetStatus(codes.Error, "regeneration failures")
	}
	span.SetAttributes(attribute.Int("revalidation.failed", res.Failed))
	return res, nil
}

func (c *Consumer) processGroup(ctx context.Context, group []Delivery) (ok, failed, skipped int) {
	for i, d := range group {
		if err := c.processOne(ctx, d); err != nil {
			c.logger.Warn("regeneration failed, leaving group for redelivery",
				"key", d.Key, "group", d.Group(), "remaining", len(group)-i-1, "error", err)
			return ok, 1, len(group) - i - 1
		}
		ok++
	}
	return ok, 0, 0
}

func (c *Consumer) processOne(ctx context.Context, d Delivery) error {
	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(hbCtx, d.Receipt)
	}()
	err := c.regen.Regenerate(ctx, d.Message)
	stop()
	wg.Wait()
	if err != nil {
		return err
	}
	if err := c.queue.Delete(ctx, d.Receipt); err != nil {
		return err
	}
	c.logger.Debug("regenerated", "key", d.Key, "host", d.Host)
	return nil
}

func (c *Consumer) heartbeat(ctx context.Context, receipt string) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.queue.ExtendVisibility(ctx, receipt, c.cfg.Visibility); err != nil && ctx.Err() == nil {
				c.logger.Warn("extend visibility", "error", err)
			}
		}
	}
}

// groupDeliveries splits a batch by grouping key, keeping delivery order
// within each group and first-seen order across groups.
func groupDeliveries(ds []Delivery) (map[string][]Delivery, []string) {
	groups := map[string][]Delivery{}
	var order []string
	for _, d := range ds {
		g := d.Group()
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], d)
	}
	return groups, order
}
