/**
 * Provider support shared by every PHI detector.
 *
 * Category filtering by masking level is a provider responsibility, not a
 * core one: Safe Harbor emits everything, Limited Dataset suppresses
 * provider and organization categories, Custom emits only a caller-supplied
 * category set.
 */

package providers

import (
	"github.com/redactifai/deid-worker/internal/deid"
	"github.com/rs/zerolog"
)

// providerCategories are excluded in Limited Dataset mode: identifiers of
// the treating side, kept for research use under a data use agreement.
var providerCategories = map[string]bool{
	"PersonType":             true,
	"Organization":           true,
	"HealthcareProfessional": true,
	"Doctor":                 true,
	"Physician":              true,
	"Hospital":               true,
}

// CategoryFilter decides which detected categories a provider emits.
type CategoryFilter struct {
	custom map[string]bool
	logger zerolog.Logger
}

// NewCategoryFilter builds a filter with the custom category set used in
// custom masking mode.
func NewCategoryFilter(customCategories []string, logger zerolog.Logger) *CategoryFilter {
	custom := make(map[string]bool, len(customCategories))
	for _, c := range customCategories {
		custom[c] = true
	}
	return &CategoryFilter{custom: custom, logger: logger}
}

// Include reports whether an entity of the given category should be
// emitted under the masking level. An empty custom set falls back to Safe
// Harbor behavior rather than masking nothing.
func (f *CategoryFilter) Include(category string, level deid.MaskingLevel) bool {
	switch level {
	case deid.MaskingLevelLimitedDataset:
		return !providerCategories[category]
	case deid.MaskingLevelCustom:
		if len(f.custom) == 0 {
			f.logger.Warn().Msg("custom masking level with no categories configured, defaulting to safe harbor")
			return true
		}
		return f.custom[category]
	default: // Safe Harbor masks everything
		return true
	}
}
