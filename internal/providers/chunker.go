/**
 * Chunking wrapper for PHI providers with input size limits.
 *
 * Cloud detection APIs cap the characters accepted per call. The wrapper
 * splits the full text at whitespace boundaries below the limit, invokes
 * the inner provider per chunk and re-bases returned offsets so callers see
 * offsets relative to the original text.
 */

package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/redactifai/deid-worker/internal/deid"
)

// ChunkingPHI wraps a deid.PHIProvider, transparently splitting oversized
// inputs.
type ChunkingPHI struct {
	inner    deid.PHIProvider
	maxChars int
}

// NewChunkingPHI wraps inner with a rune-count limit per detection call.
func NewChunkingPHI(inner deid.PHIProvider, maxChars int) (*ChunkingPHI, error) {
	if maxChars < 1 {
		return nil, fmt.Errorf("maxChars must be positive, got %d", maxChars)
	}
	return &ChunkingPHI{inner: inner, maxChars: maxChars}, nil
}

// Name reports the inner provider's name.
func (c *ChunkingPHI) Name() string {
	if n, ok := c.inner.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "chunked"
}

// Detect runs detection over each chunk and merges the results, offsets
// adjusted back to the original text.
func (c *ChunkingPHI) Detect(ctx context.Context, fullText string, level deid.MaskingLevel) ([]deid.PHIEntity, error) {
	runes := []rune(fullText)
	if len(runes) <= c.maxChars {
		return c.inner.Detect(ctx, fullText, level)
	}

	var entities []deid.PHIEntity

	start := 0
	for start < len(runes) {
		end := chunkEnd(runes, start, c.maxChars)

		chunk := string(runes[start:end])
		found, err := c.inner.Detect(ctx, chunk, level)
		if err != nil {
			return nil, err
		}

		for _, e := range found {
			e.Offset += start
			entities = append(entities, e)
		}

		start = end
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Offset < entities[j].Offset
	})
	return entities, nil
}

// chunkEnd picks the split point for the chunk starting at start: the last
// whitespace within the limit, or a hard cut when the chunk contains none.
// Splitting at whitespace keeps entities intact; an entity straddling a
// hard cut is lost, which the limit sizes make rare.
func chunkEnd(runes []rune, start, maxChars int) int {
	end := start + maxChars
	if end >= len(runes) {
		return len(runes)
	}

	for i := end; i > start; i-- {
		if isSplitRune(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSplitRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}
