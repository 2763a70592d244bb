package translator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/store"
	"github.com/opensubs-io/subsync/subtitle"
)

func TestLoadCheckpoint_FreshWhenNoneExists(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testConfig()
	cfg.CheckpointEnabled = true

	cp, err := loadCheckpoint(context.Background(), s, cfg, "job-1", 3, "en", "fr")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.ChunksTotal)
	assert.Empty(t, cp.ChunksCompleted)
}

func TestRecordChunk_MonotonicAndPersists(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testConfig()
	cfg.CheckpointEnabled = true
	ctx := context.Background()

	cp := newCheckpoint("job-2", 3, "en", "fr")
	require.NoError(t, s.PutCheckpoint(ctx, cp))

	require.NoError(t, recordChunk(ctx, s, cfg, cp, 1, []string{"un"}))
	require.NoError(t, recordChunk(ctx, s, cfg, cp, 0, []string{"zero"}))
	// re-recording the same index must not duplicate it.
	require.NoError(t, recordChunk(ctx, s, cfg, cp, 0, []string{"zero"}))

	assert.Equal(t, []int{0, 1}, cp.ChunksCompleted)

	reloaded, err := s.GetCheckpoint(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, reloaded.ChunksCompleted)
}

func TestReassemble_OrdersByChunkIndexRegardlessOfCompletionOrder(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Segments: []subtitle.Segment{{ID: 0, Text: "a"}}},
		{Index: 1, Segments: []subtitle.Segment{{ID: 1, Text: "b"}}},
	}
	cp := newCheckpoint("job-3", 2, "en", "fr")
	cp.ChunksCompleted = []int{1, 0}
	cp.Translations[1] = []string{"B"}
	cp.Translations[0] = []string{"A"}

	out := reassemble(chunks, cp)
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Text)
	assert.Equal(t, "B", out[1].Text)
}

func TestCleanupCheckpoint_RespectsRetentionConfig(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	cp := newCheckpoint("job-4", 1, "en", "fr")
	require.NoError(t, s.PutCheckpoint(ctx, cp))

	cfg := testConfig()
	cfg.CheckpointCleanupOnSuccess = false
	require.NoError(t, cleanupCheckpoint(ctx, s, cfg, "job-4"))
	_, err := s.GetCheckpoint(ctx, "job-4")
	require.NoError(t, err, "checkpoint must survive when cleanup-on-success is disabled")

	cfg.CheckpointCleanupOnSuccess = true
	require.NoError(t, cleanupCheckpoint(ctx, s, cfg, "job-4"))
	_, err = s.GetCheckpoint(ctx, "job-4")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
