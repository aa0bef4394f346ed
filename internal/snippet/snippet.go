// Package snippet cuts a display window out of record text around the first
// match of a query.
package snippet

import (
	"unicode"

	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// Ellipsis marks a truncated side of a snippet.
const Ellipsis = "…"

// Options sizes a snippet in runes.
type Options struct {
	// Window is the maximum snippet length, markers excluded.
	Window int
	// Before is the context kept ahead of the match.
	Before int
	// After is the context kept behind the match.
	After int
}

// DefaultOptions returns a 300 rune window with 100 runes either side.
func DefaultOptions() Options {
	return Options{Window: 300, Before: 100, After: 100}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.Before < 0 {
		o.Before = d.Before
	}
	if o.After < 0 {
		o.After = d.After
	}
	return o
}

// Build returns text unchanged when it fits the window. Otherwise it returns
// the region around the first match of query, marked with an ellipsis on
// each truncated side. Without a match the region starts at the beginning.
func Build(text, query string, opts Options) string {
	opts = opts.withDefaults()
	runes := []rune(text)
	if len(runes) <= opts.Window {
		return text
	}

	pos, length := Locate(runes, query)

	start := pos - opts.Before
	if start < 0 {
		start = 0
	}
	end := pos + length + opts.After
	if end > len(runes) {
		end = len(runes)
	}
	if end-start > opts.Window {
		end = start + opts.Window
	}

	out := string(runes[start:end])
	if start > 0 {
		out = Ellipsis + out
	}
	if end < len(runes) {
		out += Ellipsis
	}
	return out
}

// Locate finds query in text and returns the rune offset and rune length of
// the match. Three passes are tried in order: case-insensitive substring,
// substring ignoring whitespace in text, and substring over letters and
// digits only. A miss returns (0, 0).
func Locate(text []rune, query string) (int, int) {
	needle := lowerRunes([]rune(query))
	if len(trimSpaceRunes(needle)) == 0 {
		return 0, 0
	}
	hay := lowerRunes(text)

	if i := indexRunes(hay, needle); i >= 0 {
		return i, len(needle)
	}
	if i, n := indexIgnoringSpace(hay, needle); i >= 0 {
		return i, n
	}
	if i, n := indexCompacted(text, query); i >= 0 {
		return i, n
	}
	return 0, 0
}

func lowerRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func trimSpaceRunes(rs []rune) []rune {
	out := rs[:0:0]
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return out
}

func indexRunes(hay, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(hay) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j, r := range needle {
			if hay[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// indexIgnoringSpace matches needle (whitespace removed) against hay while
// skipping whitespace in hay, so "变压器" is found in "变 压 器".
func indexIgnoringSpace(hay, needle []rune) (int, int) {
	needle = trimSpaceRunes(needle)
	if len(needle) == 0 {
		return -1, 0
	}
	for i := range hay {
		if hay[i] != needle[0] {
			continue
		}
		j, k := i, 0
		for j < len(hay) && k < len(needle) {
			if unicode.IsSpace(hay[j]) {
				j++
				continue
			}
			if hay[j] != needle[k] {
				break
			}
			j++
			k++
		}
		if k == len(needle) {
			return i, j - i
		}
	}
	return -1, 0
}

// indexCompacted matches over letters and digits only and maps the hit back
// to offsets in text.
func indexCompacted(text []rune, query string) (int, int) {
	needle, _ := textnorm.CompactLettersDigits(query)
	if len(needle) == 0 {
		return -1, 0
	}
	compact, index := textnorm.CompactLettersDigits(string(text))
	i := indexRunes(compact, needle)
	if i < 0 {
		return -1, 0
	}
	start := index[i]
	end := index[i+len(needle)-1] + 1
	return start, end - start
}
