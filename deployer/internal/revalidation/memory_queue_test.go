package revalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func msg(key, group string) Message {
	return Message{Key: key, GroupingKey: group, Host: "example.com"}
}

func TestMemoryQueueLocksGroupWhileInFlight(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{Visibility: 30 * time.Second, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, msg("/a", "g1")))
	first, err := q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, q.Send(ctx, msg("/b", "g1")))
	require.NoError(t, q.Send(ctx, msg("/c", "g2")))

	second, err := q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "/c", second[0].Key)

	require.NoError(t, q.Delete(ctx, first[0].Receipt))
	third, err := q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "/b", third[0].Key)
}

func TestMemoryQueueRedeliversAfterVisibilityLapses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{Visibility: 30 * time.Second, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, msg("/a", "")))
	d1, _ := q.Receive(ctx, 1, 0)
	require.Len(t, d1, 1)

	none, _ := q.Receive(ctx, 1, 0)
	assert.Empty(t, none)

	clock.Advance(31 * time.Second)
	d2, _ := q.Receive(ctx, 1, 0)
	require.Len(t, d2, 1)
	assert.Equal(t, 2, d2[0].ReceiveCount)

	assert.ErrorIs(t, q.Delete(ctx, d1[0].Receipt), ErrInvalidReceipt)
	assert.NoError(t, q.Delete(ctx, d2[0].Receipt))
	assert.Zero(t, q.Len())
}

func TestMemoryQueueExtendVisibility(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{Visibility: 10 * time.Second, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, msg("/a", "")))
	d, _ := q.Receive(ctx, 1, 0)
	require.Len(t, d, 1)

	clock.Advance(8 * time.Second)
	require.NoError(t, q.ExtendVisibility(ctx, d[0].Receipt, 10*time.Second))
	clock.Advance(8 * time.Second)
	none, _ := q.Receive(ctx, 1, 0)
	assert.Empty(t, none)

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, q.ExtendVisibility(ctx, d[0].Receipt, time.Second), ErrInvalidReceipt)
}

func TestMemoryQueueDeduplicatesWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{DedupWindow: 5 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, msg("/a", "")))
	require.NoError(t, q.Send(ctx, msg("/a", "")))
	assert.Equal(t, 1, q.Len())

	clock.Advance(6 * time.Minute)
	require.NoError(t, q.Send(ctx, msg("/a", "")))
	assert.Equal(t, 2, q.Len())
}

func TestMemoryQueueForgetsExpiredDedupEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{DedupWindow: 5 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, msg("/a", "")))
	require.NoError(t, q.Send(ctx, msg("/b", "")))
	clock.Advance(6 * time.Minute)
	require.NoError(t, q.Send(ctx, msg("/c", "")))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Len(t, q.dedup, 1)
}

func TestMemoryQueueDeleteWakesWaitingReceive(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, msg("/a1", "a")))
	require.NoError(t, q.Send(ctx, msg("/a2", "a")))

	first, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Delete(ctx, first[0].Receipt)
	}()
	start := time.Now()
	got, err := q.Receive(ctx, 1, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/a2", got[0].Key)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMemoryQueueReceiveWaitsForSend(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Send(ctx, msg("/late", ""))
	}()
	got, err := q.Receive(ctx, 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/late", got[0].Key)
}

func TestMemoryQueueRejectsInvalidMessagesAndClosed(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	ctx := context.Background()
	assert.Error(t, q.Send(ctx, Message{Key: "no-slash", Host: "h"}))
	assert.Error(t, q.Send(ctx, Message{Key: "/x"}))

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Send(ctx, msg("/a", "")), ErrClosed)
}
