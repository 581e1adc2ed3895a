package deid

// boundedDistance computes the Levenshtein edit distance between a and b,
// giving up early once the distance is known to exceed maxDist. The return
// value is the exact distance when it is <= maxDist, and maxDist+1
// otherwise. The matcher never needs unbounded edit distance.
func boundedDistance(a, b string, maxDist int) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	if maxDist < 0 {
		maxDist = 0
	}

	// The distance is at least the length difference.
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDist {
		return maxDist + 1
	}

	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]

		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			d := prev[j] + 1 // deletion
			if ins := curr[j-1] + 1; ins < d {
				d = ins // insertion
			}
			if sub := prev[j-1] + cost; sub < d {
				d = sub // substitution
			}
			curr[j] = d

			if d < rowMin {
				rowMin = d
			}
		}

		// Every cell in later rows is >= the minimum of this row.
		if rowMin > maxDist {
			return maxDist + 1
		}

		prev, curr = curr, prev
	}

	if prev[lb] > maxDist {
		return maxDist + 1
	}
	return prev[lb]
}

// similarityRatio maps edit distance to [0,1]: 1.0 for identical strings,
// 0.0 when every character differs.
func similarityRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}

	dist := boundedDistance(a, b, longest)
	return 1.0 - float64(dist)/float64(longest)
}
