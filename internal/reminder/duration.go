package reminder

import (
	"math"
	"strings"
)

var unitSeconds = map[string]int64{
	"second": 1,
	"minute": 60,
	"hour":   60 * 60,
	"day":    60 * 60 * 24,
	"week":   60 * 60 * 24 * 7,
	"month":  60 * 60 * 24 * 7 * 4, // fixed four weeks, not calendar months
}

// ParseDuration turns a quantity and the text that follows it into a delay
// in seconds and the reminder message.
//
// When the first word of text is a unit ("minute", "Hours", ...) the delay is
// quantity*unit and the word is dropped from the message. Anything else falls
// back to minutes and text is returned unchanged. It never fails.
func ParseDuration(quantity int64, text string) (int64, string) {
	words := strings.Fields(text)
	if len(words) > 0 {
		w := strings.ToLower(words[0])
		w = strings.TrimSuffix(w, "s")
		if mult, ok := unitSeconds[w]; ok {
			return saturatingMul(quantity, mult), strings.Join(words[1:], " ")
		}
	}
	return saturatingMul(quantity, 60), text
}

func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > 0 && a > math.MaxInt64/b {
		return math.MaxInt64
	}
	if a < 0 && a < math.MinInt64/b {
		return math.MinInt64
	}
	return a * b
}
