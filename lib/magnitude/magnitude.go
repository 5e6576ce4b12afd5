// Package magnitude parses human-abbreviated counts as rendered by
// ad libraries and video platform UIs ("680K", "1.2M") into exact integers.
package magnitude

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("magnitude %q: %s", e.Input, e.Reason)
}

var factors = map[byte]int64{
	'K': 1_000,
	'k': 1_000,
	'M': 1_000_000,
	'm': 1_000_000,
	'B': 1_000_000_000,
	'b': 1_000_000_000,
}

// Parse converts an abbreviated count into an exact integer.
//
// The accepted grammar is: digits, an optional fractional part, and an
// optional suffix out of K/M/B (case-insensitive). Without a suffix the
// input must be a plain integer. Fractional values multiplied by a suffix
// factor truncate toward zero, matching the integer cast the source UIs
// perform ("1.0054K" -> 1005). Anything else fails with *ParseError.
func Parse(s string) (int64, error) {
	body := strings.TrimSpace(s)
	if body == "" {
		return 0, &ParseError{Input: s, Reason: "empty input"}
	}
	body = strings.TrimPrefix(body, "+")

	factor := int64(1)
	last := body[len(body)-1]
	if last < '0' || last > '9' {
		f, ok := factors[last]
		if !ok {
			return 0, &ParseError{Input: s, Reason: fmt.Sprintf("unrecognized suffix %q", string(last))}
		}
		factor = f
		body = body[:len(body)-1]
	}
	if body == "" {
		return 0, &ParseError{Input: s, Reason: "missing numeric body"}
	}

	intPart := body
	fracPart := ""
	if dot := strings.IndexByte(body, '.'); dot >= 0 {
		if factor == 1 {
			return 0, &ParseError{Input: s, Reason: "fractional value without suffix"}
		}
		intPart = body[:dot]
		fracPart = body[dot+1:]
		if fracPart == "" || strings.ContainsRune(fracPart, '.') {
			return 0, &ParseError{Input: s, Reason: "malformed fractional part"}
		}
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, &ParseError{Input: s, Reason: "malformed numeric body"}
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "numeric body out of range"}
	}

	// exact integer math, digit by digit; factors are powers of ten so
	// digits past the factor's magnitude truncate to zero on their own
	var frac int64
	place := factor
	for i := 0; i < len(fracPart); i++ {
		place /= 10
		frac += int64(fracPart[i]-'0') * place
	}

	if whole > (math.MaxInt64-frac)/factor {
		return 0, &ParseError{Input: s, Reason: "value overflows int64"}
	}
	return whole*factor + frac, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
