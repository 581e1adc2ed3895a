package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/redactifai/deid-worker/internal/deid"
)

// recordingPHI records the chunks it is invoked with and reports one entity
// per occurrence of needle.
type recordingPHI struct {
	needle string
	chunks []string
}

func (r *recordingPHI) Detect(ctx context.Context, fullText string, level deid.MaskingLevel) ([]deid.PHIEntity, error) {
	r.chunks = append(r.chunks, fullText)

	var entities []deid.PHIEntity
	offset := 0
	for {
		i := strings.Index(fullText[offset:], r.needle)
		if i < 0 {
			break
		}
		start := offset + i
		entities = append(entities, deid.PHIEntity{
			Text:       r.needle,
			Category:   "Person",
			Offset:     len([]rune(fullText[:start])),
			Length:     len([]rune(r.needle)),
			Confidence: 0.9,
		})
		offset = start + len(r.needle)
	}
	return entities, nil
}

func TestChunkingPHIPassThroughWhenSmall(t *testing.T) {
	inner := &recordingPHI{needle: "Bob"}
	c, err := NewChunkingPHI(inner, 100)
	if err != nil {
		t.Fatal(err)
	}

	entities, err := c.Detect(context.Background(), "hello Bob", deid.MaskingLevelSafeHarbor)
	if err != nil {
		t.Fatal(err)
	}

	if len(inner.chunks) != 1 {
		t.Errorf("chunks = %d, want 1", len(inner.chunks))
	}
	if len(entities) != 1 || entities[0].Offset != 6 {
		t.Errorf("entities = %+v", entities)
	}
}

func TestChunkingPHIRebasesOffsets(t *testing.T) {
	// Two occurrences far enough apart to land in different chunks.
	text := "Bob " + strings.Repeat("x ", 40) + "Bob end"
	inner := &recordingPHI{needle: "Bob"}
	c, err := NewChunkingPHI(inner, 50)
	if err != nil {
		t.Fatal(err)
	}

	entities, err := c.Detect(context.Background(), text, deid.MaskingLevelSafeHarbor)
	if err != nil {
		t.Fatal(err)
	}

	if len(inner.chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(inner.chunks))
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(entities))
	}

	runes := []rune(text)
	for _, e := range entities {
		if got := string(runes[e.Offset:e.EndOffset()]); got != "Bob" {
			t.Errorf("re-based offset %d points at %q", e.Offset, got)
		}
	}
}

func TestChunkingPHISplitsAtWhitespace(t *testing.T) {
	text := strings.Repeat("word ", 30) // 150 runes
	inner := &recordingPHI{needle: "zz"}
	c, err := NewChunkingPHI(inner, 52)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Detect(context.Background(), text, deid.MaskingLevelSafeHarbor); err != nil {
		t.Fatal(err)
	}

	for i, chunk := range inner.chunks {
		if len([]rune(chunk)) > 52 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(chunk)))
		}
		if strings.Contains(strings.TrimSpace(chunk), "wor d") {
			t.Errorf("chunk %d split inside a word", i)
		}
		if i > 0 && strings.HasPrefix(chunk, "ord") {
			t.Errorf("chunk %d starts mid-word: %q", i, chunk[:8])
		}
	}
}

func TestChunkingPHIRejectsBadLimit(t *testing.T) {
	if _, err := NewChunkingPHI(&recordingPHI{}, 0); err == nil {
		t.Fatal("NewChunkingPHI(0) should fail")
	}
}

func TestChunkingPHICoversAllText(t *testing.T) {
	text := strings.Repeat("abcde ", 100)
	inner := &recordingPHI{needle: "zz"}
	c, err := NewChunkingPHI(inner, 64)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Detect(context.Background(), text, deid.MaskingLevelSafeHarbor); err != nil {
		t.Fatal(err)
	}

	if strings.Join(inner.chunks, "") != text {
		t.Error("concatenated chunks must reproduce the input text exactly")
	}
}
