package translator

import (
	"context"
	"sort"

	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/store"
	"github.com/opensubs-io/subsync/subtitle"
)

// loadCheckpoint returns the prior checkpoint for jobID if one exists, or a
// fresh empty checkpoint otherwise. Checkpointing can be disabled entirely
// via config, in which case every chunk is always treated as pending.
func loadCheckpoint(ctx context.Context, s store.Store, cfg *config.Config, jobID string, chunksTotal int, sourceLang, targetLang string) (*store.Checkpoint, error) {
	if !cfg.CheckpointEnabled {
		return newCheckpoint(jobID, chunksTotal, sourceLang, targetLang), nil
	}

	cp, err := s.GetCheckpoint(ctx, jobID)
	if err == store.ErrNotFound {
		return newCheckpoint(jobID, chunksTotal, sourceLang, targetLang), nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func newCheckpoint(jobID string, chunksTotal int, sourceLang, targetLang string) *store.Checkpoint {
	return &store.Checkpoint{
		JobID:           jobID,
		ChunksTotal:     chunksTotal,
		ChunksCompleted: nil,
		Translations:    map[int][]string{},
		SourceLanguage:  sourceLang,
		TargetLanguage:  targetLang,
		UpdatedAt:       config.Clock.GetTime(),
	}
}

// isCompleted reports whether chunkIndex is already recorded as completed.
func isCompleted(cp *store.Checkpoint, chunkIndex int) bool {
	for _, idx := range cp.ChunksCompleted {
		if idx == chunkIndex {
			return true
		}
	}
	return false
}

// recordChunk appends chunkIndex to the completed list (monotonically
// growing, §3) and stores its translated lines, then persists the
// checkpoint. Safe to call repeatedly for the same index; it will not
// duplicate the completed-list entry.
func recordChunk(ctx context.Context, s store.Store, cfg *config.Config, cp *store.Checkpoint, chunkIndex int, translated []string) error {
	if !isCompleted(cp, chunkIndex) {
		cp.ChunksCompleted = append(cp.ChunksCompleted, chunkIndex)
		sort.Ints(cp.ChunksCompleted)
	}
	cp.Translations[chunkIndex] = translated
	cp.UpdatedAt = config.Clock.GetTime()

	if !cfg.CheckpointEnabled {
		return nil
	}
	return s.PutCheckpoint(ctx, cp)
}

// reassemble sorts completed chunks by index and flattens their translated
// lines back into segments in original order, pairing each translated line
// with the source segment's timing.
func reassemble(chunks []Chunk, cp *store.Checkpoint) []subtitle.Segment {
	byIndex := make(map[int]Chunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c
	}

	indices := make([]int, len(cp.ChunksCompleted))
	copy(indices, cp.ChunksCompleted)
	sort.Ints(indices)

	var out []subtitle.Segment
	for _, idx := range indices {
		chunk, ok := byIndex[idx]
		if !ok {
			continue
		}
		lines := cp.Translations[idx]
		for i, seg := range chunk.Segments {
			text := seg.Text
			if i < len(lines) {
				text = lines[i]
			}
			out = append(out, subtitle.Segment{
				ID:    seg.ID,
				Start: seg.Start,
				End:   seg.End,
				Text:  text,
			})
		}
	}
	return out
}

func cleanupCheckpoint(ctx context.Context, s store.Store, cfg *config.Config, jobID string) error {
	if !cfg.CheckpointCleanupOnSuccess {
		return nil
	}
	return s.DeleteCheckpoint(ctx, jobID)
}
