// Package ordinal recognises list positions in free text ("2", "the second
// one", "il terzo", "ultimo").
package ordinal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
)

// last marks the "last item" words; resolved against the list length.
const last = -1

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	"primo": 1, "prima": 1, "secondo": 2, "seconda": 2, "terzo": 3, "terza": 3,
	"quarto": 4, "quarta": 4, "quinto": 5, "quinta": 5, "sesto": 6, "sesta": 6,
	"settimo": 7, "settima": 7, "ottavo": 8, "ottava": 8, "nono": 9, "nona": 9,
	"decimo": 10, "decima": 10,
	"last": last, "ultimo": last, "ultima": last,
}

// Cardinal words are only trusted when they are the whole message: "one" is
// too common inside sentences ("the second one").
var cardinalWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"uno": 1, "una": 1, "due": 2, "tre": 3, "quattro": 4, "cinque": 5,
	"sei": 6, "sette": 7, "otto": 8, "nove": 9, "dieci": 10,
}

var (
	bareNumber     = regexp.MustCompile(`^\d{1,3}$`)
	// Numbers glued to other characters (PL-12, OR-1) are codes, not positions.
	embeddedNumber = regexp.MustCompile(`(?:^|[\s#(])(\d{1,2})(?:[\s.,;:!?)]|$)`)
)

// Bare reports the number when the whole message is a number or a single
// number word. "last" words are not bare numbers.
func Bare(message string) (int, bool) {
	n := catalog.Normalize(message)
	if bareNumber.MatchString(n) {
		v, err := strconv.Atoi(n)
		return v, err == nil
	}
	if v, ok := cardinalWords[n]; ok {
		return v, true
	}
	if v, ok := ordinalWords[n]; ok && v != last {
		return v, true
	}
	return 0, false
}

// Parse resolves message to a 1-based position in a list of count items.
// It accepts a bare number, a number embedded in text, or an ordinal word.
// Positions outside 1..count are rejected.
func Parse(message string, count int) (int, bool) {
	if count <= 0 {
		return 0, false
	}
	n := catalog.Normalize(message)
	if v, ok := Bare(n); ok {
		return inRange(v, count)
	}
	if m := embeddedNumber.FindStringSubmatch(strings.ToLower(message)); m != nil {
		v, _ := strconv.Atoi(m[1])
		return inRange(v, count)
	}
	for _, w := range strings.Fields(n) {
		v, ok := ordinalWords[w]
		if !ok {
			continue
		}
		if v == last {
			return count, true
		}
		return inRange(v, count)
	}
	return 0, false
}

func inRange(v, count int) (int, bool) {
	if v < 1 || v > count {
		return 0, false
	}
	return v, true
}
