/**
 * Regex PHI detector.
 *
 * Pattern-based detection for the common structured PHI categories. Used in
 * tests and in air-gapped deployments where no ML detection service is
 * reachable. Offsets are reported in runes over the full text, matching the
 * contract the entity matcher relies on.
 */

package providers

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

type phiPattern struct {
	category string
	re       *regexp.Regexp
}

var phiPatterns = []phiPattern{
	{"Date", regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)},
	{"Date", regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{4}\b`)},
	{"PhoneNumber", regexp.MustCompile(`\(\d{3}\)\s*\d{3}-\d{4}`)},
	{"PhoneNumber", regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)},
	{"Email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"MedicalRecordNumber", regexp.MustCompile(`\bMRN:?\s*\d+\b`)},
	{"InsuranceID", regexp.MustCompile(`\bMember ID:?\s*[A-Z0-9]+\b`)},
	{"Address", regexp.MustCompile(`\b\d+\s+[A-Z][a-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd)\b`)},
}

// namePatterns catch honorific-introduced and labeled person names.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:Mr\.|Mrs\.|Ms\.|Dr\.)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	regexp.MustCompile(`Patient:?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
	regexp.MustCompile(`Spouse:?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
}

const regexConfidence = 0.95

// RegexPHI implements deid.PHIProvider with pattern matching.
type RegexPHI struct {
	filter *CategoryFilter
	logger zerolog.Logger
}

// NewRegexPHI creates a regex-based PHI detector.
func NewRegexPHI(filter *CategoryFilter, logger zerolog.Logger) *RegexPHI {
	return &RegexPHI{filter: filter, logger: logger}
}

// Name identifies the provider in error reports.
func (r *RegexPHI) Name() string { return "regex" }

// Detect scans the text with every pattern, filters by masking level and
// returns entities sorted by offset. Entities of the same category with an
// identical span are collapsed into one.
func (r *RegexPHI) Detect(ctx context.Context, fullText string, level deid.MaskingLevel) ([]deid.PHIEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []deid.PHIEntity

	for _, p := range phiPatterns {
		for _, loc := range p.re.FindAllStringIndex(fullText, -1) {
			if !r.filter.Include(p.category, level) {
				continue
			}
			entities = append(entities, makeEntity(fullText, p.category, loc[0], loc[1]))
		}
	}

	if r.filter.Include("Person", level) {
		for _, re := range namePatterns {
			for _, loc := range re.FindAllStringSubmatchIndex(fullText, -1) {
				// Submatch 1 is the name itself, without the introducer.
				if len(loc) >= 4 && loc[2] >= 0 {
					entities = append(entities, makeEntity(fullText, "Person", loc[2], loc[3]))
				}
			}
		}
	}

	entities = dedupeEntities(entities)
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Offset < entities[j].Offset
	})

	r.logger.Debug().Int("entities", len(entities)).Str("level", string(level)).Msg("regex PHI detection complete")
	return entities, nil
}

// makeEntity converts byte match bounds to rune offsets.
func makeEntity(fullText, category string, byteStart, byteEnd int) deid.PHIEntity {
	runeStart := len([]rune(fullText[:byteStart]))
	text := fullText[byteStart:byteEnd]
	return deid.PHIEntity{
		Text:       text,
		Category:   category,
		Offset:     runeStart,
		Length:     len([]rune(text)),
		Confidence: regexConfidence,
	}
}

// dedupeEntities drops entities whose category, offset and length equal an
// earlier entity's, which happens when two patterns match the same text.
func dedupeEntities(entities []deid.PHIEntity) []deid.PHIEntity {
	out := entities[:0]
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		key := fmt.Sprintf("%s:%d:%d", e.Category, e.Offset, e.Length)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
