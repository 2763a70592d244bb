package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_EnqueueConsume(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type task struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, b.Enqueue(ctx, "subtitle.download", task{JobID: "job-1"}))

	received := make(chan string, 1)
	go func() {
		_ = b.Consume(ctx, "subtitle.download", func(ctx context.Context, body []byte, routingKey string) error {
			var tsk task
			_ = json.Unmarshal(body, &tsk)
			received <- tsk.JobID
			cancel()
			return nil
		})
	}()

	select {
	case jobID := <-received:
		assert.Equal(t, "job-1", jobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBroker_PublishMatchesWildcardSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var gotKeys []string
	go func() {
		_ = b.ConsumeTopic(ctx, "subtitle.events.consumer", "#", func(ctx context.Context, body []byte, routingKey string) error {
			mu.Lock()
			gotKeys = append(gotKeys, routingKey)
			mu.Unlock()
			return nil
		})
	}()

	// give the subscriber goroutine a moment to register before publishing
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "subtitle.download.requested", map[string]string{"job_id": "job-1"}))
	require.NoError(t, b.Publish(ctx, "job.failed", map[string]string{"job_id": "job-1"}))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"subtitle.download.requested", "job.failed"}, gotKeys)
}

func TestTopicMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"#", "subtitle.ready", true},
		{"subtitle.ready", "subtitle.ready", true},
		{"subtitle.*", "subtitle.ready", true},
		{"subtitle.*", "subtitle.translate.requested", false},
		{"subtitle.#", "subtitle.translate.requested", true},
		{"job.failed", "subtitle.ready", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, topicMatch(c.pattern, c.key), "%s vs %s", c.pattern, c.key)
	}
}
