// Package suggest finds near matches for mistyped names using Levenshtein
// distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Similar returns up to three candidates close to word, best first. A
// candidate containing word as a dotted segment also counts as close.
func Similar(word string, candidates []string) []string {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return nil
	}

	type scored struct {
		name  string
		score int
	}
	var matches []scored
	maxDist := max(2, len(word)/3)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		dist := levenshtein(word, lc)
		if dist > maxDist {
			// "api_key" should still find "sync.api_key".
			if i := strings.LastIndex(lc, "."); i >= 0 && levenshtein(word, lc[i+1:]) <= maxDist {
				dist = maxDist
			} else {
				continue
			}
		}
		matches = append(matches, scored{c, dist})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score < matches[j].score })
	var out []string
	for i := 0; i < len(matches) && i < 3; i++ {
		out = append(out, matches[i].name)
	}
	return out
}
