package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amankb/internal/blocks"
	kberrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/query"
	"github.com/Aman-CERP/amankb/internal/snippet"
	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Executor runs queries through the tier cascade.
type Executor struct {
	tiers      []Strategy
	normalizer *query.Normalizer
	snippets   snippet.Options
	metrics    *telemetry.QueryMetrics
}

// Ensure Executor implements Searcher.
var _ Searcher = (*Executor)(nil)

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithStrategies replaces the default cascade.
func WithStrategies(tiers ...Strategy) ExecutorOption {
	return func(e *Executor) {
		e.tiers = tiers
	}
}

// WithMetrics sets an optional query metrics collector for telemetry.
// When set, the answering tier, latency and zero-result queries are tracked.
func WithMetrics(m *telemetry.QueryMetrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithSnippetOptions sizes the snippets attached to hits.
func WithSnippetOptions(o snippet.Options) ExecutorOption {
	return func(e *Executor) {
		e.snippets = o
	}
}

// WithNormalizer shares a query normalizer cache.
func WithNormalizer(n *query.Normalizer) ExecutorOption {
	return func(e *Executor) {
		e.normalizer = n
	}
}

// WithFuzzyBounds changes the query length range of the fuzzy tier in the
// default cascade. Has no effect on strategies set via WithStrategies.
func WithFuzzyBounds(minRunes, maxRunes int) ExecutorOption {
	return func(e *Executor) {
		for _, t := range e.tiers {
			if f, ok := t.(*FuzzyStrategy); ok {
				f.MinRunes, f.MaxRunes = minRunes, maxRunes
			}
		}
	}
}

// NewExecutor creates an executor over st with the default cascade.
func NewExecutor(st store.Store, opts ...ExecutorOption) (*Executor, error) {
	if st == nil {
		return nil, ErrNilDependency
	}

	e := &Executor{
		tiers:    DefaultStrategies(st),
		snippets: snippet.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.normalizer == nil {
		e.normalizer = query.NewNormalizer(query.DefaultCacheSize)
	}
	return e, nil
}

// Tiers returns the names of the configured tiers in cascade order.
func (e *Executor) Tiers() []string {
	names := make([]string, len(e.tiers))
	for i, t := range e.tiers {
		names[i] = t.Name()
	}
	return names
}

// Search normalizes raw and returns the hits of the first tier with a
// non-empty (filtered) result. A query that normalizes to nothing and an
// exhausted cascade both yield an empty response, not an error. Only context
// cancellation is returned as an error.
func (e *Executor) Search(ctx context.Context, raw string, opts SearchOptions) (*Response, error) {
	start := time.Now()
	resp := &Response{Hits: []Hit{}}

	q, err := e.normalizer.Normalize(raw)
	if err != nil {
		slog.Debug("query_rejected",
			slog.String("query", raw),
			slog.String("code", kberrors.GetCode(err)))
		resp.Rejected = err
		return resp, nil
	}
	resp.Query = q

	limit := normalizeLimit(opts.Limit)
	fetch := limit
	if len(buildFilters(opts)) > 0 {
		fetch = MaxLimit
	}

	var failed []string
	for _, tier := range e.tiers {
		if !tier.Applies(q) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		recs, err := tier.Search(ctx, q, fetch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			tierErr := kberrors.SearchTierError(tier.Name(), err)
			slog.Warn("search_tier_failed",
				slog.String("tier", tier.Name()),
				slog.String("query", q.Normalized),
				slog.String("error", err.Error()))
			resp.TierErrors = append(resp.TierErrors, tierErr)
			failed = append(failed, tier.Name())
			continue
		}

		hits := ApplyFilters(e.toHits(recs, q, tier.Name()), opts)
		if len(hits) == 0 {
			continue
		}
		if len(hits) > limit {
			hits = hits[:limit]
		}
		resp.Tier = tier.Name()
		resp.Hits = hits
		break
	}

	resp.Duration = time.Since(start)
	e.metrics.Record(telemetry.QueryEvent{
		Query:       q.Normalized,
		Tier:        resp.Tier,
		ResultCount: len(resp.Hits),
		Latency:     resp.Duration,
		FailedTiers: failed,
	})

	slog.Debug("search_complete",
		slog.String("query", q.Normalized),
		slog.String("tier", resp.Tier),
		slog.Int("hits", len(resp.Hits)),
		slog.Duration("duration", resp.Duration))

	return resp, nil
}

func (e *Executor) toHits(recs []store.Record, q query.Query, tier string) []Hit {
	hits := make([]Hit, len(recs))
	for i, r := range recs {
		hits[i] = Hit{
			Record:     r,
			Tier:       tier,
			Snippet:    snippet.Build(snippetSource(r), q.Normalized, e.snippets),
			FirstBlock: firstBlock(r, q.Normalized),
		}
	}
	return hits
}

// snippetSource prefers the display content and falls back to the search
// key for records whose text only lives in blocks.
func snippetSource(r store.Record) string {
	if strings.TrimSpace(r.Content) != "" {
		return r.Content
	}
	return r.SearchContent
}

func firstBlock(r store.Record, q string) int {
	if r.ContentBlocksJSON == nil {
		return -1
	}
	texts, err := blocks.ExtractPlainTexts([]byte(*r.ContentBlocksJSON))
	if err != nil {
		return -1
	}
	return blocks.FirstMatch(texts, q)
}
