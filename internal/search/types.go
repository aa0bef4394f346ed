// Package search runs a normalized query through an ordered cascade of
// search tiers and returns the first non-empty result, each hit carrying a
// snippet and the first matching block.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/amankb/internal/query"
	"github.com/Aman-CERP/amankb/internal/store"
)

// Tier names.
const (
	TierCJKExact = "cjk_exact"
	TierFullText = "fulltext"
	TierLike     = "like"
	TierFuzzy    = "fuzzy"
)

// Searcher answers raw user queries.
type Searcher interface {
	Search(ctx context.Context, raw string, opts SearchOptions) (*Response, error)
}

// Strategy is one tier of the cascade.
type Strategy interface {
	// Name identifies the tier in results, logs and telemetry.
	Name() string

	// Applies reports whether the tier runs for q at all.
	Applies(q query.Query) bool

	// Search returns matching records, best first.
	Search(ctx context.Context, q query.Query, limit int) ([]store.Record, error)
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 20, max: 200).
	Limit int

	// Sources restricts hits to these sources. Empty means all.
	Sources []string

	// Category restricts hits to one category. Empty means all.
	Category string
}

// Hit is one search result.
type Hit struct {
	Record store.Record `json:"record"`

	// Tier is the strategy that produced the hit.
	Tier string `json:"tier"`

	Snippet string `json:"snippet"`

	// FirstBlock is the index of the first block containing the query, or
	// -1 when the record has no blocks or none matches.
	FirstBlock int `json:"firstBlock"`
}

// Response is the outcome of one search.
type Response struct {
	Query query.Query `json:"query"`

	// Tier answered the query; empty when every tier came back empty.
	Tier string `json:"tier,omitempty"`

	Hits []Hit `json:"hits"`

	// Rejected is set when the query normalized to nothing usable
	// (query.ErrEmptyQuery or query.ErrQueryTooShort).
	Rejected error `json:"-"`

	// TierErrors holds failures of tiers the cascade moved past.
	TierErrors []error `json:"-"`

	Duration time.Duration `json:"duration"`
}
