// Package phrase does word-boundary keyword matching over chat messages.
package phrase

import (
	"strings"

	"github.com/samber/lo"
)

// Text is a message normalised for matching: lowercase words separated by
// single spaces, padded so every word has a space on both sides.
type Text string

// Normalize lowercases s, folds apostrophes away ("don't" becomes "dont") and
// turns any other non-alphanumeric rune into a word break.
func Normalize(s string) Text {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '\'' || r == '’':
		default:
			b.WriteRune(' ')
		}
	}
	return Text(" " + strings.Join(strings.Fields(b.String()), " ") + " ")
}

// Has reports whether p occurs in t as whole words.
func (t Text) Has(p string) bool {
	n := strings.TrimSpace(string(Normalize(p)))
	return n != "" && strings.Contains(string(t), " "+n+" ")
}

// HasAny reports whether any phrase occurs in t.
func (t Text) HasAny(phrases ...string) bool {
	return lo.SomeBy(phrases, t.Has)
}

// Words returns the number of words in t.
func (t Text) Words() int {
	return len(strings.Fields(string(t)))
}

// String returns the normalised text without padding.
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}
