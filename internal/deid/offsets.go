/**
 * Offset index builder.
 *
 * Walks the concatenated document text with a single left-to-right cursor
 * and aligns every OCR word to a half-open [start, end) rune range. OCR
 * page text and FullText come from the same provider but can disagree on
 * whitespace handling and the occasional glyph, so the walk escalates from
 * exact matching through whitespace-normalized matching to a bounded fuzzy
 * search. Words that still cannot be located are recorded as unresolved at
 * the current cursor; the walk never reorders, drops or aborts.
 */

package deid

// WordOffset maps one OCR word to its character range in FullText. For
// unresolved words Start == End == the cursor position at which the word
// was abandoned.
type WordOffset struct {
	Word     OCRWord
	Start    int
	End      int
	Resolved bool
}

// ContainsOffset reports whether the word's range contains the offset.
func (w WordOffset) ContainsOffset(offset int) bool {
	return w.Start <= offset && offset < w.End
}

// OverlapsRange reports whether the word's range overlaps [start, end).
func (w WordOffset) OverlapsRange(start, end int) bool {
	return w.Resolved && !(w.End <= start || end <= w.Start)
}

// minimum fuzzy search window, in runes
const minFuzzyWindow = 16

// isWhitespaceLike matches the separator characters providers insert
// between words in FullText: space, tab, newline, carriage return, form
// feed and non-breaking space.
func isWhitespaceLike(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\u00a0':
		return true
	}
	return false
}

// BuildOffsetIndex aligns every word of the OCR result to FullText. The
// returned slice has exactly one entry per input word, in page/reading
// order, with monotonically nondecreasing starts.
func BuildOffsetIndex(result *OCRResult, fuzzyWordThreshold int) []WordOffset {
	text := []rune(result.FullText)
	words := result.AllWords()
	index := make([]WordOffset, 0, len(words))

	cursor := 0
	for _, word := range words {
		wordRunes := []rune(word.Text)

		// Skip separator characters at the cursor.
		c := cursor
		for c < len(text) && isWhitespaceLike(text[c]) {
			c++
		}

		if len(wordRunes) == 0 {
			index = append(index, WordOffset{Word: word, Start: c, End: c})
			cursor = c
			continue
		}

		// Stage 1: exact match at the cursor.
		if end, ok := matchExact(text, c, wordRunes); ok {
			index = append(index, WordOffset{Word: word, Start: c, End: end, Resolved: true})
			cursor = end
			continue
		}

		// Stage 2: whitespace-normalized match.
		if end, ok := matchNormalized(text, c, wordRunes); ok {
			index = append(index, WordOffset{Word: word, Start: c, End: end, Resolved: true})
			cursor = end
			continue
		}

		// Stage 3: fuzzy match in a forward window.
		threshold := fuzzyWordThreshold
		if limit := len(wordRunes) / 2; threshold > limit {
			threshold = limit
		}
		if pos, ok := matchFuzzy(text, c, wordRunes, threshold); ok {
			end := pos + len(wordRunes)
			index = append(index, WordOffset{Word: word, Start: pos, End: end, Resolved: true})
			cursor = end
			continue
		}

		// Unresolved: record at the cursor and keep walking.
		index = append(index, WordOffset{Word: word, Start: c, End: c})
		cursor = c
	}

	return index
}

// matchExact checks for a literal occurrence of word at position c.
func matchExact(text []rune, c int, word []rune) (end int, ok bool) {
	if c+len(word) > len(text) {
		return 0, false
	}
	for i, r := range word {
		if text[c+i] != r {
			return 0, false
		}
	}
	return c + len(word), true
}

// matchNormalized compares word against text from position c while
// collapsing runs of whitespace in both to a single separator. Returns the
// exclusive end of the consumed span in text.
func matchNormalized(text []rune, c int, word []rune) (end int, ok bool) {
	ti, wi := c, 0

	for wi < len(word) {
		if isWhitespaceLike(word[wi]) {
			// A whitespace run in the word must correspond to one in the text.
			if ti >= len(text) || !isWhitespaceLike(text[ti]) {
				return 0, false
			}
			for wi < len(word) && isWhitespaceLike(word[wi]) {
				wi++
			}
			for ti < len(text) && isWhitespaceLike(text[ti]) {
				ti++
			}
			continue
		}

		if ti >= len(text) || text[ti] != word[wi] {
			return 0, false
		}
		ti++
		wi++
	}

	if ti == c {
		return 0, false
	}
	return ti, true
}

// matchFuzzy scans a forward window for the position minimizing edit
// distance to the word, accepting only distances within the threshold.
// Earlier positions win ties.
func matchFuzzy(text []rune, c int, word []rune, threshold int) (pos int, ok bool) {
	window := 2 * len(word)
	if window < minFuzzyWindow {
		window = minFuzzyWindow
	}

	wordStr := string(word)
	bestPos, bestDist := -1, threshold+1

	for p := c; p < c+window && p+len(word) <= len(text); p++ {
		candidate := string(text[p : p+len(word)])
		dist := boundedDistance(wordStr, candidate, threshold)
		if dist < bestDist {
			bestPos, bestDist = p, dist
			if dist == 0 {
				break
			}
		}
	}

	if bestPos < 0 || bestDist > threshold {
		return 0, false
	}
	return bestPos, true
}
