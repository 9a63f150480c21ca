package reconcile

import (
	"math"

	"github.com/agext/levenshtein"
)

// Substitutions cost a deletion plus an insertion, so similarity is 1 - d/(len(a)+len(b)).
var indelParams = levenshtein.NewParams().SubCost(2)

// Ratio scores two strings 0..100 by indel distance.
func Ratio(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return int(math.Round(100 * levenshtein.Similarity(a, b, indelParams)))
}

// PartialRatio is the best Ratio of the shorter string against every window of the
// same length in the longer one.
func PartialRatio(a, b string) int {
	s, l := []rune(a), []rune(b)
	if len(s) > len(l) {
		s, l = l, s
	}
	if len(s) == 0 {
		return 0
	}
	short := string(s)
	best := 0
	for i := 0; i+len(s) <= len(l); i++ {
		score := Ratio(short, string(l[i:i+len(s)]))
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}
