// Package query turns raw user input into the normalized form the search
// tiers consume.
package query

import (
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// MinLatinRunes is the shortest accepted query without CJK characters.
const MinLatinRunes = 2

// DefaultCacheSize is the number of normalized queries kept.
const DefaultCacheSize = 1024

// Normalization edge cases. They mean "no results", not a failure.
var (
	ErrEmptyQuery    = kberrors.New(kberrors.ErrCodeQueryEmpty, "query is empty", nil)
	ErrQueryTooShort = kberrors.New(kberrors.ErrCodeQueryTooShort, "query is too short", nil)
)

// Query is a normalized search query.
type Query struct {
	// Raw is the trimmed user input.
	Raw string

	// Normalized is the search key form: letters and digits, lowercased,
	// single spaces.
	Normalized string

	// WhitespaceStripped is Normalized without spaces.
	WhitespaceStripped string

	// HasCJK is set when the query contains a CJK ideograph.
	HasCJK bool
}

// Terms returns the space separated tokens of the normalized query.
func (q Query) Terms() []string {
	return strings.Fields(q.Normalized)
}

// Len returns the length of the query in runes, ignoring whitespace.
func (q Query) Len() int {
	return len([]rune(q.WhitespaceStripped))
}

// Normalize validates and normalizes raw.
//
// Queries without CJK need at least MinLatinRunes letters or digits. A single
// CJK character is accepted. When CJK is present, Latin letter runs are
// dropped as input-method residue ("变压qi" and "变压ｑｉ" become "变压").
func Normalize(raw string) (Query, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Query{}, ErrEmptyQuery
	}

	normalized := textnorm.CollapseWhitespace(textnorm.NormalizeForSearch(raw))
	if normalized == "" {
		return Query{}, ErrEmptyQuery
	}

	hasCJK := textnorm.ContainsCJK(normalized)
	if !hasCJK {
		if len([]rune(textnorm.StripWhitespace(normalized))) < MinLatinRunes {
			return Query{}, ErrQueryTooShort
		}
	} else {
		normalized = stripLatinRuns(normalized)
		if normalized == "" {
			return Query{}, ErrEmptyQuery
		}
	}

	return Query{
		Raw:                raw,
		Normalized:         normalized,
		WhitespaceStripped: textnorm.StripWhitespace(normalized),
		HasCJK:             hasCJK,
	}, nil
}

// stripLatinRuns removes every run of Latin-script letters (pinyin with tone
// marks and full-width forms included) and re-collapses spaces. Digits are
// kept.
func stripLatinRuns(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Latin, r) {
			return ' '
		}
		return r
	}, s)
	return textnorm.CollapseWhitespace(mapped)
}

// Normalizer normalizes queries with an LRU cache in front. It is safe for
// concurrent use.
type Normalizer struct {
	cache *lru.Cache[string, Query]
}

// NewNormalizer creates a normalizer caching up to size results.
func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, Query](size)
	return &Normalizer{cache: cache}
}

// Normalize is the cached form of the package level Normalize. Rejected
// queries are not cached.
func (n *Normalizer) Normalize(raw string) (Query, error) {
	if q, ok := n.cache.Get(raw); ok {
		return q, nil
	}
	q, err := Normalize(raw)
	if err != nil {
		return Query{}, err
	}
	n.cache.Add(raw, q)
	return q, nil
}

// Len returns the number of cached queries.
func (n *Normalizer) Len() int {
	return n.cache.Len()
}
