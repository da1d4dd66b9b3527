package revalidation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	seen map[string][]string
	fail map[string]bool
}

func newRecorder() *recorder {
	return &recorder{seen: map[string][]string{}, fail: map[string]bool{}}
}

func (r *recorder) Regenerate(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[m.Group()] = append(r.seen[m.Group()], m.Key)
	if r.fail[m.Key] {
		return errors.New("origin unavailable")
	}
	return nil
}

func TestConsumerKeepsOrderWithinGroup(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	ctx := context.Background()
	for _, m := range []Message{
		msg("/p?v=1", "/p"), msg("/q?v=1", "/q"), msg("/p?v=2", "/p"),
		msg("/q?v=2", "/q"), msg("/p?v=3", "/p"),
	} {
		require.NoError(t, q.Send(ctx, m))
	}
	rec := newRecorder()
	c := NewConsumer(q, rec, ConsumerConfig{})

	res, err := c.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Received: 5, Succeeded: 5}, res)
	assert.Equal(t, []string{"/p?v=1", "/p?v=2", "/p?v=3"}, rec.seen["/p"])
	assert.Equal(t, []string{"/q?v=1", "/q?v=2"}, rec.seen["/q"])
	assert.Zero(t, q.Len())
}

func TestConsumerFailureLeavesRestOfGroupUndeleted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := NewMemoryQueue(MemoryQueueConfig{Visibility: 30 * time.Second, Now: clock.Now})
	ctx := context.Background()
	for _, m := range []Message{msg("/a1", "a"), msg("/a2", "a"), msg("/a3", "a"), msg("/b1", "b")} {
		require.NoError(t, q.Send(ctx, m))
	}
	rec := newRecorder()
	rec.fail["/a2"] = true
	c := NewConsumer(q, rec, ConsumerConfig{HeartbeatInterval: time.Hour})

	res, err := c.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Received: 4, Succeeded: 2, Failed: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"/a1", "/a2"}, rec.seen["a"])
	assert.Equal(t, []Message{msg("/a2", "a"), msg("/a3", "a")}, q.Pending())

	// after the visibility timeout the group is redelivered in order
	delete(rec.fail, "/a2")
	clock.Advance(31 * time.Second)
	res, err = c.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"/a1", "/a2", "/a2", "/a3"}, rec.seen["a"])
	assert.Zero(t, q.Len())
}

type countingQueue struct {
	*MemoryQueue
	mu      sync.Mutex
	extends int
}

func (c *countingQueue) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	c.mu.Lock()
	c.extends++
	c.mu.Unlock()
	return c.MemoryQueue.ExtendVisibility(ctx, receipt, d)
}

func TestConsumerHeartbeatExtendsSlowMessages(t *testing.T) {
	q := &countingQueue{MemoryQueue: NewMemoryQueue(MemoryQueueConfig{})}
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, msg("/slow", "")))

	slow := RegeneratorFunc(func(ctx context.Context, m Message) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	})
	c := NewConsumer(q, slow, ConsumerConfig{HeartbeatInterval: 10 * time.Millisecond})
	res, err := c.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.GreaterOrEqual(t, q.extends, 2)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(MemoryQueueConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	require.NoError(t, q.Send(ctx, msg("/x", "")))

	done := make(chan struct{})
	go func() {
		NewConsumer(q, rec, ConsumerConfig{PollInterval: 5 * time.Millisecond}).Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestHTTPRegenerator(t *testing.T) {
	var gotMethod, gotToken, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.Header.Get(RevalidateHeader)
		gotPath = r.URL.RequestURI()
		switch r.URL.Path {
		case "/moved":
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	r := NewHTTPRegenerator("s3cret", time.Second)
	r.Scheme = "http"
	host := strings.TrimPrefix(srv.URL, "http://")
	ctx := context.Background()

	require.NoError(t, r.Regenerate(ctx, Message{Key: "/blog/1?x=1", Host: host}))
	assert.Equal(t, http.MethodHead, gotMethod)
	assert.Equal(t, "s3cret", gotToken)
	assert.Equal(t, "/blog/1?x=1", gotPath)

	assert.NoError(t, r.Regenerate(ctx, Message{Key: "/moved", Host: host}))

	err := r.Regenerate(ctx, Message{Key: "/broken", Host: host})
	var regenErr *RegenerationError
	require.ErrorAs(t, err, &regenErr)
	assert.Equal(t, http.StatusInternalServerError, regenErr.StatusCode)
}
