// Package translator implements the translation worker (§4.3): chunking by
// token budget, checkpointed bounded-parallel model calls, and ordered
// reassembly.
package translator

import (
	"math"

	"github.com/pkoukk/tiktoken-go"

	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/subtitle"
)

// Chunk is a contiguous run of source segments submitted to the model as a
// single request.
type Chunk struct {
	Index    int
	Segments []subtitle.Segment
}

// Chunker splits segments respecting whichever of two budgets is tighter:
// a token budget (with a safety margin) and a segment-count budget. A
// segment that alone exceeds the token budget is still emitted as its own
// singleton chunk rather than dropped.
type Chunker struct {
	maxTokens    int
	maxSegments  int
	encoding     *tiktoken.Tiktoken
}

// NewChunker resolves a tiktoken encoding for model; if the model is
// unknown to tiktoken-go, encoding is left nil and estimateTokens falls
// back to ceil(len(text)/4), the approximation spec.md calls for.
func NewChunker(cfg *config.Config) *Chunker {
	maxTokens := int(math.Floor(float64(cfg.TranslationMaxTokensPerChunk) * cfg.TranslationTokenSafetyMargin))
	if maxTokens < 1 {
		maxTokens = 1
	}

	enc, _ := tiktoken.EncodingForModel(cfg.TranslationModel)

	return &Chunker{
		maxTokens:   maxTokens,
		maxSegments: cfg.TranslationMaxSegmentsPerChunk,
		encoding:    enc,
	}
}

func (c *Chunker) estimateTokens(text string) int {
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

// Split groups segments into chunks in original order.
func (c *Chunker) Split(segments []subtitle.Segment) []Chunk {
	var chunks []Chunk
	var current []subtitle.Segment
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Segments: current})
		current = nil
		currentTokens = 0
	}

	for _, seg := range segments {
		segTokens := c.estimateTokens(seg.Text)

		if segTokens > c.maxTokens {
			flush()
			chunks = append(chunks, Chunk{Index: len(chunks), Segments: []subtitle.Segment{seg}})
			continue
		}

		if len(current) > 0 && (currentTokens+segTokens > c.maxTokens || len(current) >= c.maxSegments) {
			flush()
		}

		current = append(current, seg)
		currentTokens += segTokens
	}
	flush()

	return chunks
}
