// Package textutil canonicalizes scraped display text, mainly advertiser
// and channel names that platforms render with inconsistent casing and
// whitespace.
package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	return name
}

// minimum Jaro-Winkler similarity before two names are considered the
// same entity
const closestNameThreshold = 0.92

// ClosestName maps a scraped name onto the closest canonical candidate,
// so identity-key dedup holds across formatting variants of the same
// advertiser ("ACME Corp." vs "Acme corp"). Returns false when nothing
// is similar enough.
func ClosestName(name string, candidates []string) (string, bool) {
	normalized := NormalizeName(name)

	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(normalized, NormalizeName(c), true)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	if bestScore < closestNameThreshold {
		return "", false
	}
	return best, true
}
