/**
 * Entity matcher.
 *
 * Maps PHI entities (character offsets into FullText) to pixel rectangles
 * via the OCR word geometry. PHI offsets and OCR geometry come from two
 * independent providers looking at the same document, so the matcher
 * escalates per entity: exact offset overlap, a fuzzy re-anchoring of the
 * offset, then an aggressive literal search over the whole text. Entities
 * that survive none of the stages are reported unmatched; the document is
 * still produced.
 */

package deid

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// MatcherConfig enumerates the matching knobs. The zero value of
// ConfidenceThreshold masks everything; the worker's service configuration
// raises it to 0.80 by default.
type MatcherConfig struct {
	ConfidenceThreshold  float64
	PaddingPx            float64
	FuzzyWordThreshold   int
	FuzzyEntityThreshold int
	MinSimilarityRatio   float64
	MergeAdjacent        bool
}

// DefaultMatcherConfig returns the documented matcher defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		ConfidenceThreshold:  0,
		PaddingPx:            5,
		FuzzyWordThreshold:   2,
		FuzzyEntityThreshold: 2,
		MinSimilarityRatio:   0.6,
		MergeAdjacent:        true,
	}
}

// MatchStats summarizes one matcher run. Filtered entities are dropped by
// the confidence threshold and are not failures; unmatched entities are
// reported per name so the caller can surface them.
type MatchStats struct {
	Matched   int
	Unmatched int
	Filtered  int
	UnmatchedEntities []string
}

// Matcher resolves PHI entities to mask regions.
type Matcher struct {
	cfg    MatcherConfig
	logger zerolog.Logger
}

// NewMatcher creates a matcher with the given configuration.
func NewMatcher(cfg MatcherConfig, logger zerolog.Logger) *Matcher {
	return &Matcher{cfg: cfg, logger: logger}
}

// Match resolves every entity against the offset index and returns the
// deduplicated mask regions ordered by (page, y, x). Entities are processed
// in input order; the result is deterministic for identical inputs.
func (m *Matcher) Match(result *OCRResult, index []WordOffset, entities []PHIEntity) ([]MaskRegion, MatchStats) {
	fullText := []rune(result.FullText)

	var regions []MaskRegion
	var stats MatchStats

	for _, entity := range entities {
		if entity.Confidence < m.cfg.ConfidenceThreshold {
			m.logger.Debug().
				Str("category", entity.Category).
				Float64("confidence", entity.Confidence).
				Msg("entity below confidence threshold, skipped")
			stats.Filtered++
			continue
		}

		words := m.resolveEntity(fullText, index, entity)
		if len(words) == 0 {
			m.logger.Warn().
				Str("category", entity.Category).
				Int("offset", entity.Offset).
				Int("length", entity.Length).
				Msg("entity could not be matched to any OCR words")
			stats.Unmatched++
			stats.UnmatchedEntities = append(stats.UnmatchedEntities, entity.Text)
			continue
		}

		stats.Matched++
		regions = append(regions, m.regionsForEntity(result, entity, words)...)
	}

	regions = dedupeRegions(regions)
	sortRegions(regions)
	return regions, stats
}

// resolveEntity runs the per-entity escalation and returns the overlapping
// word offsets, or nil when the entity stays unmatched.
func (m *Matcher) resolveEntity(fullText []rune, index []WordOffset, entity PHIEntity) []WordOffset {
	// Stage 1: exact offset overlap, validated against the entity text.
	words := overlappingWords(index, entity.Offset, entity.EndOffset())
	if len(words) > 0 && m.wordsMatchEntity(words, entity) {
		return words
	}

	// Stage 2: re-anchor the offset with a bounded fuzzy window.
	if start, end, ok := m.fuzzyAnchor(fullText, entity); ok {
		words = overlappingWords(index, start, end)
		if len(words) > 0 {
			return words
		}
	}

	// Stage 3: aggressive literal search over the whole text.
	if start, end, ok := m.aggressiveSearch(fullText, entity); ok {
		words = overlappingWords(index, start, end)
		if len(words) > 0 {
			m.logger.Info().
				Str("category", entity.Category).
				Int("found_at", start).
				Int("reported_offset", entity.Offset).
				Msg("entity located by aggressive search")
			return words
		}
	}

	return nil
}

// wordsMatchEntity validates that the overlapping words actually spell the
// entity. Guards against coincidental offset alignment when the provider's
// offsets have drifted.
func (m *Matcher) wordsMatchEntity(words []WordOffset, entity PHIEntity) bool {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Word.Text)
	}
	combined := strings.Join(parts, " ")

	dist := boundedDistance(combined, strings.TrimSpace(entity.Text), m.cfg.FuzzyEntityThreshold)
	return dist <= m.cfg.FuzzyEntityThreshold
}

// fuzzyAnchor slides a window the size of the entity text over FullText
// within ±entity.Length of the reported offset, picking the position with
// the smallest edit distance. Ties go to the position closest to the
// reported offset. The winner must clear both the distance threshold and
// the similarity floor.
func (m *Matcher) fuzzyAnchor(fullText []rune, entity PHIEntity) (start, end int, ok bool) {
	entityRunes := []rune(entity.Text)
	if len(entityRunes) == 0 {
		return 0, 0, false
	}

	lo := entity.Offset - entity.Length
	if lo < 0 {
		lo = 0
	}
	hi := entity.Offset + entity.Length
	if limit := len(fullText) - len(entityRunes); hi > limit {
		hi = limit
	}

	bestPos, bestDist := -1, m.cfg.FuzzyEntityThreshold+1
	bestDelta := math.MaxInt

	for p := lo; p <= hi; p++ {
		candidate := string(fullText[p : p+len(entityRunes)])
		dist := boundedDistance(entity.Text, candidate, m.cfg.FuzzyEntityThreshold)
		if dist > m.cfg.FuzzyEntityThreshold {
			continue
		}

		delta := p - entity.Offset
		if delta < 0 {
			delta = -delta
		}
		if dist < bestDist || (dist == bestDist && delta < bestDelta) {
			bestPos, bestDist, bestDelta = p, dist, delta
		}
	}

	if bestPos < 0 {
		return 0, 0, false
	}

	candidate := string(fullText[bestPos : bestPos+len(entityRunes)])
	if similarityRatio(entity.Text, candidate) < m.cfg.MinSimilarityRatio {
		return 0, 0, false
	}

	return bestPos, bestPos + len(entityRunes), true
}

// aggressiveSearch falls back to literal occurrences of the entity text
// anywhere in FullText, case-insensitively, choosing the occurrence nearest
// to the reported offset.
func (m *Matcher) aggressiveSearch(fullText []rune, entity PHIEntity) (start, end int, ok bool) {
	needle := []rune(strings.ToLower(entity.Text))
	if len(needle) == 0 {
		return 0, 0, false
	}
	haystack := []rune(strings.ToLower(string(fullText)))

	bestPos := -1
	bestDelta := math.MaxInt

	for p := 0; p+len(needle) <= len(haystack); p++ {
		match := true
		for i, r := range needle {
			if haystack[p+i] != r {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		delta := p - entity.Offset
		if delta < 0 {
			delta = -delta
		}
		if delta < bestDelta {
			bestPos, bestDelta = p, delta
		}
	}

	if bestPos < 0 {
		return 0, 0, false
	}
	return bestPos, bestPos + len(needle), true
}

// regionsForEntity partitions the chosen words by page and emits one padded
// region per page touched. Regions from one entity never merge across pages.
func (m *Matcher) regionsForEntity(result *OCRResult, entity PHIEntity, words []WordOffset) []MaskRegion {
	byPage := make(map[int][]WordOffset)
	var pageOrder []int
	for _, w := range words {
		page := w.Word.Box.Page
		if _, seen := byPage[page]; !seen {
			pageOrder = append(pageOrder, page)
		}
		byPage[page] = append(byPage[page], w)
	}
	sort.Ints(pageOrder)

	var regions []MaskRegion
	for _, page := range pageOrder {
		pageW, pageH := m.pageDims(result, page)

		if !m.cfg.MergeAdjacent {
			for _, w := range byPage[page] {
				regions = append(regions, MaskRegion{
					Page:           page,
					Box:            w.Word.Box.Inflate(m.cfg.PaddingPx, pageW, pageH),
					EntityCategory: entity.Category,
					Confidence:     entity.Confidence,
				})
			}
			continue
		}

		boxes := make([]BoundingBox, 0, len(byPage[page]))
		for _, w := range byPage[page] {
			boxes = append(boxes, w.Word.Box)
		}

		merged, err := Union(boxes)
		if err != nil {
			m.logger.Warn().Err(err).Int("page", page).Msg("could not union word boxes")
			continue
		}

		regions = append(regions, MaskRegion{
			Page:           page,
			Box:            merged.Inflate(m.cfg.PaddingPx, pageW, pageH),
			EntityCategory: entity.Category,
			Confidence:     entity.Confidence,
		})
	}

	return regions
}

func (m *Matcher) pageDims(result *OCRResult, page int) (float64, float64) {
	if p := result.PageByNumber(page); p != nil {
		return p.Width, p.Height
	}
	return 0, 0
}

// overlappingWords returns the resolved index entries whose range overlaps
// [start, end).
func overlappingWords(index []WordOffset, start, end int) []WordOffset {
	var out []WordOffset
	for _, w := range index {
		if w.OverlapsRange(start, end) {
			out = append(out, w)
		}
	}
	return out
}

// dedupeRegions removes regions that duplicate an earlier region's page and
// rectangle within one pixel. Overlapping regions from distinct entities
// are kept; overlapping paint is harmless.
func dedupeRegions(regions []MaskRegion) []MaskRegion {
	out := regions[:0]
	for _, r := range regions {
		dup := false
		for _, kept := range out {
			if kept.Page == r.Page && boxesWithinOnePixel(kept.Box, r.Box) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}

func boxesWithinOnePixel(a, b BoundingBox) bool {
	if a.Normalized != b.Normalized {
		return false
	}
	return math.Abs(a.X-b.X) <= 1 &&
		math.Abs(a.Y-b.Y) <= 1 &&
		math.Abs(a.Width-b.Width) <= 1 &&
		math.Abs(a.Height-b.Height) <= 1
}

// sortRegions orders regions by (page, y, x).
func sortRegions(regions []MaskRegion) {
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Page != regions[j].Page {
			return regions[i].Page < regions[j].Page
		}
		if regions[i].Box.Y != regions[j].Box.Y {
			return regions[i].Box.Y < regions[j].Box.Y
		}
		return regions[i].Box.X < regions[j].Box.X
	})
}
