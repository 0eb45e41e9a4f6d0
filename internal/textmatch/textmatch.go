// Package textmatch provides the text normalization and string similarity
// primitives shared by the detection engine and the rule engine.
//
// All phrase matching in the pipeline goes through Normalize so verdicts
// cannot diverge on casing, punctuation or spacing.
package textmatch

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, strips punctuation except apostrophes, and
// collapses runs of whitespace into single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Contains reports whether needle occurs in haystack after normalization.
func Contains(haystack, needle string) bool {
	n := Normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), n)
}

// Levenshtein computes the edit distance between two strings.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Ratio returns a normalized similarity in [0,1]: 1 - distance/maxlen.
// Two empty strings are fully similar.
func Ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// FuzzyContains searches haystack for needle with fuzzy tolerance. It
// first tries a normalized substring match (similarity 1.0), then slides a
// window of needle's word count across haystack and returns the best
// window similarity when it meets the threshold. The returned snippet is
// the matching normalized window.
func FuzzyContains(haystack, needle string, threshold float64) (bool, float64, string) {
	h := Normalize(haystack)
	n := Normalize(needle)
	if n == "" {
		return false, 0, ""
	}
	if strings.Contains(h, n) {
		return true, 1.0, n
	}
	words := strings.Fields(h)
	span := len(strings.Fields(n))
	if span == 0 || len(words) < span {
		return false, 0, ""
	}
	bestSim := 0.0
	bestWindow := ""
	for i := 0; i+span <= len(words); i++ {
		window := strings.Join(words[i:i+span], " ")
		if sim := Ratio(window, n); sim > bestSim {
			bestSim = sim
			bestWindow = window
		}
	}
	if bestSim >= threshold {
		return true, bestSim, bestWindow
	}
	return false, bestSim, ""
}

// PhoneticCode produces a simplified per-word phonetic code (Soundex-style
// consonant classes, vowels dropped after the first letter), joined with
// spaces. Intended for catching transcription misspellings of short
// phrases, not general phonology.
func PhoneticCode(s string) string {
	words := strings.Fields(Normalize(s))
	codes := make([]string, 0, len(words))
	for _, w := range words {
		codes = append(codes, phoneticWord(w))
	}
	return strings.Join(codes, " ")
}

// PhoneticEquals reports whether two strings share the same phonetic code.
func PhoneticEquals(a, b string) bool {
	ca, cb := PhoneticCode(a), PhoneticCode(b)
	return ca != "" && ca == cb
}

func phoneticWord(w string) string {
	if w == "" {
		return ""
	}
	runes := []rune(w)
	var b strings.Builder
	b.WriteRune(runes[0])
	prev := phoneticClass(runes[0])
	for _, r := range runes[1:] {
		c := phoneticClass(r)
		if c == 0 || c == prev {
			prev = c
			continue
		}
		b.WriteRune('0' + rune(c))
		prev = c
	}
	return b.String()
}

// phoneticClass maps consonants to Soundex digit classes; vowels, h, w, y
// and everything else map to 0 (skipped).
func phoneticClass(r rune) int {
	switch r {
	case 'b', 'f', 'p', 'v':
		return 1
	case 'c', 'g', 'j', 'k', 'q', 's', 'x', 'z':
		return 2
	case 'd', 't':
		return 3
	case 'l':
		return 4
	case 'm', 'n':
		return 5
	case 'r':
		return 6
	default:
		return 0
	}
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
