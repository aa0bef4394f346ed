package search

import (
	"context"
	"strings"

	"github.com/Aman-CERP/amankb/internal/query"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// Fuzzy tier bounds, in runes of the whitespace-stripped query.
const (
	DefaultFuzzyMinRunes = 3
	DefaultFuzzyMaxRunes = 12
)

// ShortCJKRunes is the longest CJK query whose full-text hits are
// re-checked by literal containment.
const ShortCJKRunes = 4

// DefaultStrategies returns the standard cascade over st.
func DefaultStrategies(st store.Store) []Strategy {
	return []Strategy{
		&CJKExactStrategy{Store: st},
		&FullTextStrategy{Store: st},
		&LikeStrategy{Store: st},
		&FuzzyStrategy{Store: st, MinRunes: DefaultFuzzyMinRunes, MaxRunes: DefaultFuzzyMaxRunes},
	}
}

// CJKExactStrategy matches CJK queries by whitespace-insensitive containment.
// Tokenized full-text indexes split CJK into single characters and match far
// too broadly, so this runs first.
type CJKExactStrategy struct {
	Store store.Store
}

func (s *CJKExactStrategy) Name() string { return TierCJKExact }

func (s *CJKExactStrategy) Applies(q query.Query) bool { return q.HasCJK }

func (s *CJKExactStrategy) Search(ctx context.Context, q query.Query, limit int) ([]store.Record, error) {
	return s.Store.QueryLikeWhitespaceInsensitive(ctx, q.WhitespaceStripped, limit)
}

// FullTextStrategy queries the full-text index with every term required and
// prefix matching on.
type FullTextStrategy struct {
	Store store.Store
}

func (s *FullTextStrategy) Name() string { return TierFullText }

func (s *FullTextStrategy) Applies(q query.Query) bool { return len(q.Terms()) > 0 }

func (s *FullTextStrategy) Search(ctx context.Context, q query.Query, limit int) ([]store.Record, error) {
	recs, err := s.Store.QueryFullText(ctx, store.FullTextQuery{Terms: q.Terms(), Prefix: true}, limit)
	if err != nil {
		return nil, err
	}
	if !q.HasCJK || q.Len() > ShortCJKRunes {
		return recs, nil
	}

	kept := recs[:0]
	for _, r := range recs {
		if containsLiterally(r, q.WhitespaceStripped) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// containsLiterally reports whether needle occurs in the record's content,
// title, source or search key once whitespace is removed.
func containsLiterally(r store.Record, needle string) bool {
	for _, field := range []string{r.Content, r.Title, r.Source} {
		if strings.Contains(textnorm.StripWhitespace(textnorm.NormalizeForSearch(field)), needle) {
			return true
		}
	}
	return strings.Contains(textnorm.StripWhitespace(r.SearchContent), needle)
}

// LikeStrategy is the whitespace-insensitive containment fallback for
// queries the CJK tier did not cover.
type LikeStrategy struct {
	Store store.Store
}

func (s *LikeStrategy) Name() string { return TierLike }

// Applies skips CJK queries: the CJK tier already ran the same lookup.
func (s *LikeStrategy) Applies(q query.Query) bool { return !q.HasCJK }

func (s *LikeStrategy) Search(ctx context.Context, q query.Query, limit int) ([]store.Record, error) {
	return s.Store.QueryLikeWhitespaceInsensitive(ctx, q.WhitespaceStripped, limit)
}

// FuzzyStrategy matches every query rune in order with anything between.
// Last resort; least precise.
type FuzzyStrategy struct {
	Store    store.Store
	MinRunes int
	MaxRunes int
}

func (s *FuzzyStrategy) Name() string { return TierFuzzy }

func (s *FuzzyStrategy) Applies(q query.Query) bool {
	n := q.Len()
	return n >= s.MinRunes && n <= s.MaxRunes
}

func (s *FuzzyStrategy) Search(ctx context.Context, q query.Query, limit int) ([]store.Record, error) {
	return s.Store.QueryLikeFuzzy(ctx, FuzzyPattern(q.WhitespaceStripped), limit)
}

// FuzzyPattern builds %c1%c2%...%cn% with LIKE wildcards in s escaped.
func FuzzyPattern(s string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range s {
		b.WriteString(store.EscapeLike(string(r)))
		b.WriteByte('%')
	}
	return b.String()
}
