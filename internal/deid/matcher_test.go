package deid

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func newTestMatcher(cfg MatcherConfig) *Matcher {
	return NewMatcher(cfg, zerolog.Nop())
}

func matchAll(t *testing.T, result *OCRResult, cfg MatcherConfig, entities ...PHIEntity) ([]MaskRegion, MatchStats) {
	t.Helper()
	index := BuildOffsetIndex(result, cfg.FuzzyWordThreshold)
	return newTestMatcher(cfg).Match(result, index, entities)
}

// Scenario: single-word exact match.
func TestMatchSingleWordExact(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{{
			PageNumber: 1,
			Width:      1000,
			Height:     1000,
			Words: []OCRWord{
				{Text: "John", Confidence: 0.99, Box: box(1, 100, 200, 50, 20)},
			},
		}},
		FullText: "John",
	}
	entity := PHIEntity{Text: "John", Category: "Person", Offset: 0, Length: 4, Confidence: 0.95}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
	if stats.Matched != 1 || stats.Unmatched != 0 {
		t.Errorf("stats = %+v, want 1 matched", stats)
	}

	r := regions[0]
	if r.Page != 1 || r.EntityCategory != "Person" || r.Confidence != 0.95 {
		t.Errorf("region metadata = %+v", r)
	}
	if want := box(1, 95, 195, 60, 30); r.Box != want {
		t.Errorf("region box = %+v, want %+v", r.Box, want)
	}
}

// Scenario: two words merged into one region.
func TestMatchTwoWordMerge(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{{
			PageNumber: 1,
			Width:      1000,
			Height:     1000,
			Words: []OCRWord{
				{Text: "John", Confidence: 0.99, Box: box(1, 100, 200, 50, 20)},
				{Text: "Smith", Confidence: 0.98, Box: box(1, 155, 200, 60, 20)},
			},
		}},
		FullText: "John Smith",
	}
	entity := PHIEntity{Text: "John Smith", Category: "Person", Offset: 0, Length: 10, Confidence: 0.9}

	regions, _ := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
	if want := box(1, 95, 195, 125, 30); regions[0].Box != want {
		t.Errorf("merged box = %+v, want %+v", regions[0].Box, want)
	}
}

// Scenario: OCR misread recovered by fuzzy validation.
func TestMatchFuzzyRecovery(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{{
			PageNumber: 1,
			Width:      1000,
			Height:     1000,
			Words: []OCRWord{
				{Text: "5amuel", Confidence: 0.8, Box: box(1, 100, 200, 70, 20)},
			},
		}},
		FullText: "5amuel",
	}
	entity := PHIEntity{Text: "Samuel", Category: "Person", Offset: 0, Length: 6, Confidence: 0.95}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
	if stats.Matched != 1 {
		t.Errorf("entity should be reported matched, stats = %+v", stats)
	}
	if want := box(1, 95, 195, 80, 30); regions[0].Box != want {
		t.Errorf("region box = %+v, want %+v", regions[0].Box, want)
	}
}

// Scenario: entity spanning a page boundary produces one region per page.
func TestMatchPageSpanningEntity(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{
			{
				PageNumber: 1,
				Width:      1000,
				Height:     1000,
				Words: []OCRWord{
					{Text: "123", Confidence: 0.99, Box: box(1, 100, 900, 40, 20)},
					{Text: "Main", Confidence: 0.99, Box: box(1, 145, 900, 50, 20)},
				},
			},
			{
				PageNumber: 2,
				Width:      1000,
				Height:     1000,
				Words: []OCRWord{
					{Text: "Street", Confidence: 0.99, Box: box(2, 100, 50, 70, 20)},
				},
			},
		},
		FullText: "123 Main\nStreet",
	}
	entity := PHIEntity{Text: "123 Main\nStreet", Category: "Address", Offset: 0, Length: 15, Confidence: 0.9}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 2 {
		t.Fatalf("regions = %d, want 2 (one per page)", len(regions))
	}
	if stats.Matched != 1 {
		t.Errorf("stats = %+v, want one matched entity", stats)
	}
	if regions[0].Page != 1 || regions[1].Page != 2 {
		t.Errorf("region pages = %d, %d; want 1, 2", regions[0].Page, regions[1].Page)
	}
	for _, r := range regions {
		if r.EntityCategory != "Address" || r.Confidence != 0.9 {
			t.Errorf("region should carry entity metadata, got %+v", r)
		}
	}
}

// Scenario: entity text absent from OCR output stays unmatched.
func TestMatchUnmatchedEntity(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{{
			PageNumber: 1,
			Width:      1000,
			Height:     1000,
			Words: []OCRWord{
				{Text: "Hello", Confidence: 0.99, Box: box(1, 100, 100, 60, 20)},
			},
		}},
		FullText: "Hello",
	}
	entity := PHIEntity{Text: "Goodbye", Category: "Person", Offset: 0, Length: 7, Confidence: 0.9}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 0 {
		t.Fatalf("regions = %d, want 0", len(regions))
	}
	if stats.Unmatched != 1 || stats.Filtered != 0 {
		t.Errorf("stats = %+v, want unmatched=1 filtered=0", stats)
	}
}

// Scenario: low-confidence entity dropped by the filter.
func TestMatchConfidenceFilter(t *testing.T) {
	result := ocrFixture("John", "John")
	cfg := DefaultMatcherConfig()
	cfg.ConfidenceThreshold = 0.80
	entity := PHIEntity{Text: "John", Category: "Person", Offset: 0, Length: 4, Confidence: 0.50}

	regions, stats := matchAll(t, result, cfg, entity)

	if len(regions) != 0 {
		t.Fatalf("regions = %d, want 0", len(regions))
	}
	if stats.Filtered != 1 || stats.Unmatched != 0 {
		t.Errorf("stats = %+v, want filtered=1 unmatched=0", stats)
	}
}

// Offset drift: the provider's offset points at the wrong place but the
// fuzzy anchor recovers the true position nearby.
func TestMatchFuzzyOffsetReanchoring(t *testing.T) {
	result := ocrFixture("Seen by Dr. Adams today", "Seen", "by", "Dr.", "Adams", "today")
	// Offset 10 is two characters early; the true span starts at 12.
	entity := PHIEntity{Text: "Adams", Category: "Person", Offset: 10, Length: 5, Confidence: 0.9}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if stats.Matched != 1 {
		t.Fatalf("stats = %+v, want matched=1", stats)
	}
	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
}

// Aggressive search: offset far off, but the text occurs literally.
func TestMatchAggressiveSearch(t *testing.T) {
	full := "Lab results reviewed. Contact Jennifer for scheduling."
	result := ocrFixture(full, "Lab", "results", "reviewed.", "Contact", "Jennifer", "for", "scheduling.")
	entity := PHIEntity{Text: "Jennifer", Category: "Person", Offset: 0, Length: 8, Confidence: 0.9}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if stats.Matched != 1 {
		t.Fatalf("stats = %+v, want matched=1", stats)
	}
	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
}

// Offsets coincidentally aligned with unrelated text must be rejected, not
// painted.
func TestMatchRejectsCoincidentalAlignment(t *testing.T) {
	result := ocrFixture("Cholesterol", "Cholesterol")
	entity := PHIEntity{Text: "Engelbert", Category: "Person", Offset: 0, Length: 9, Confidence: 0.9}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entity)

	if len(regions) != 0 || stats.Unmatched != 1 {
		t.Errorf("coincidental alignment should stay unmatched, regions=%d stats=%+v", len(regions), stats)
	}
}

func TestMatchIdempotent(t *testing.T) {
	result := ocrFixture("Patient Samuel Grummons seen 03/15/1985",
		"Patient", "5amuel", "Grummons", "seen", "03/15/1985")
	entities := []PHIEntity{
		{Text: "Samuel Grummons", Category: "Person", Offset: 8, Length: 15, Confidence: 0.95},
		{Text: "03/15/1985", Category: "Date", Offset: 29, Length: 10, Confidence: 0.99},
	}

	cfg := DefaultMatcherConfig()
	index := BuildOffsetIndex(result, cfg.FuzzyWordThreshold)
	m := newTestMatcher(cfg)

	first, _ := m.Match(result, index, entities)
	second, _ := m.Match(result, index, entities)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("matcher not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestMatchDeduplicatesIdenticalRegions(t *testing.T) {
	result := ocrFixture("John", "John")
	entities := []PHIEntity{
		{Text: "John", Category: "Person", Offset: 0, Length: 4, Confidence: 0.95},
		{Text: "John", Category: "Person", Offset: 0, Length: 4, Confidence: 0.95},
	}

	regions, stats := matchAll(t, result, DefaultMatcherConfig(), entities...)

	if len(regions) != 1 {
		t.Errorf("regions = %d, want 1 after dedup", len(regions))
	}
	if stats.Matched != 2 {
		t.Errorf("both entities should match, stats = %+v", stats)
	}
}

func TestMatchRegionOrdering(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{
			{
				PageNumber: 1,
				Width:      1000,
				Height:     1000,
				Words: []OCRWord{
					{Text: "bottom", Confidence: 0.99, Box: box(1, 100, 800, 60, 20)},
					{Text: "top", Confidence: 0.99, Box: box(1, 100, 100, 40, 20)},
				},
			},
		},
		FullText: "bottom top",
	}
	entities := []PHIEntity{
		{Text: "bottom", Category: "Person", Offset: 0, Length: 6, Confidence: 0.9},
		{Text: "top", Category: "Person", Offset: 7, Length: 3, Confidence: 0.9},
	}

	regions, _ := matchAll(t, result, DefaultMatcherConfig(), entities...)

	if len(regions) != 2 {
		t.Fatalf("regions = %d, want 2", len(regions))
	}
	if regions[0].Box.Y > regions[1].Box.Y {
		t.Errorf("regions not ordered by y: %v then %v", regions[0].Box.Y, regions[1].Box.Y)
	}
}

// With zero padding the produced regions must cover every overlapping word
// box completely.
func TestMatchCoversWordBoxesWithoutPadding(t *testing.T) {
	result := &OCRResult{
		Pages: []OCRPage{{
			PageNumber: 1,
			Width:      1000,
			Height:     1000,
			Words: []OCRWord{
				{Text: "John", Confidence: 0.99, Box: box(1, 100, 200, 50, 20)},
				{Text: "Smith", Confidence: 0.98, Box: box(1, 155, 190, 60, 25)},
			},
		}},
		FullText: "John Smith",
	}
	entity := PHIEntity{Text: "John Smith", Category: "Person", Offset: 0, Length: 10, Confidence: 0.9}

	cfg := DefaultMatcherConfig()
	cfg.PaddingPx = 0
	regions, _ := matchAll(t, result, cfg, entity)

	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}

	r := regions[0].Box
	for _, w := range result.Pages[0].Words {
		b := w.Box
		if b.X < r.X || b.Y < r.Y || b.X+b.Width > r.X+r.Width || b.Y+b.Height > r.Y+r.Height {
			t.Errorf("word box %+v not covered by region %+v", b, r)
		}
	}
}
