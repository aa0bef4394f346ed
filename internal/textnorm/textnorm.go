// Package textnorm provides Unicode sanitation and search-key normalization
// shared by ingestion, query parsing and snippet extraction.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// mojibakeRepairs maps UTF-8 sequences that were decoded as Latin-1/CP1252
// and re-encoded back to the characters they were meant to be.
var mojibakeRepairs = strings.NewReplacer(
	"â€™", "’",
	"â€˜", "‘",
	"â€œ", "“",
	"â€\u009d", "”",
	"â€“", "–",
	"â€”", "—",
	"â€¦", "…",
	"â€¢", "•",
	"Ã©", "é",
	"Ã¨", "è",
	"Ã¤", "ä",
	"Ã¶", "ö",
	"Ã¼", "ü",
	"Ã ", "à",
	"Â ", " ",
	"Â°", "°",
	"ï¼Œ", "，",
	"ï¼š", "：",
	"ï¼›", "；",
	"ï¼ˆ", "（",
	"ï¼‰", "）",
	"ã€‚", "。",
	"ã€Œ", "「",
	"ã€\u008d", "」",
	"ï»¿", "",
)

// Sanitize composes text to NFC, repairs known mojibake sequences, folds
// full-width Latin letters and digits to ASCII, strips C0/C1 control
// characters other than newline and tab, and trims. Full-width CJK
// punctuation is kept.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = mojibakeRepairs.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isStrippable(r) {
			continue
		}
		b.WriteRune(FoldWidth(r))
	}
	return strings.TrimSpace(b.String())
}

// FoldWidth maps a full-width Latin letter or digit (Ａ, ｑ, ７) to its
// ASCII form. Every other rune is returned unchanged, so offsets in runes
// survive folding.
func FoldWidth(r rune) rune {
	if r < 0xFF10 || r > 0xFF5A {
		return r
	}
	if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
		return r
	}
	if folded := width.LookupRune(r).Folded(); folded != 0 {
		return folded
	}
	return r
}

func isStrippable(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r < 0x20, r == 0x7f:
		return true
	case r >= 0x80 && r <= 0x9f:
		return true
	case r == '\uFEFF':
		return true
	}
	return false
}

// NormalizeForSearch produces the search key for text: letters and digits of
// any script lowercased, every other rune turned into a single space, runs
// collapsed. NormalizeForSearch(NormalizeForSearch(x)) == NormalizeForSearch(x).
func NormalizeForSearch(s string) string {
	s = Sanitize(s)
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if !IsLetterOrDigit(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// IsLetterOrDigit reports whether r counts as search content.
func IsLetterOrDigit(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsCJK reports whether r is in the CJK Unified Ideographs block or its
// extension A.
func IsCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF)
}

// ContainsCJK reports whether any rune of s is a CJK ideograph.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if IsCJK(r) {
			return true
		}
	}
	return false
}

// StripWhitespace removes every Unicode whitespace rune from s.
func StripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// CollapseWhitespace replaces runs of whitespace (newlines included) with a
// single space and trims the result.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CompactLettersDigits keeps only the lowercased letters and digits of s.
// The returned index maps each rune of the compacted string to its rune
// offset in s.
func CompactLettersDigits(s string) ([]rune, []int) {
	compact := make([]rune, 0, len(s))
	index := make([]int, 0, len(s))
	pos := 0
	for _, r := range s {
		if IsLetterOrDigit(r) {
			compact = append(compact, unicode.ToLower(FoldWidth(r)))
			index = append(index, pos)
		}
		pos++
	}
	return compact, index
}
