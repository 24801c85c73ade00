// Package source drives a rule's upstream source: it fetches result pages and
// runs the rule pipeline once per item.
package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/pathexpr"
	"github.com/JakeFAU/rule-aggregator/internal/pipeline"
)

// Strategy collects the records of one rule.
type Strategy interface {
	Collect(ctx context.Context, rule ingest.Rule) ([]ingest.Record, error)
}

// Set maps fetch types to strategies.
type Set struct {
	strategies map[ingest.FetchType]Strategy
}

// NewSet builds the fetch-all and paginated strategies around one fetcher.
func NewSet(fetcher ingest.Fetcher, gate pipeline.Gate, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	items := &itemRunner{
		interp: pipeline.NewInterpreter(fetcher, gate, logger.Named("pipeline")),
		gate:   gate,
	}
	return &Set{strategies: map[ingest.FetchType]Strategy{
		ingest.FetchAll:       &FetchAll{fetcher: fetcher, items: items},
		ingest.FetchPaginated: &Paginated{fetcher: fetcher, items: items, logger: logger.Named("paginated")},
	}}
}

// For returns the strategy matching the rule's fetch type.
func (s *Set) For(rule ingest.Rule) (Strategy, error) {
	st, ok := s.strategies[rule.FetchType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ingest.ErrUnknownFetchType, rule.FetchType)
	}
	return st, nil
}

// itemRunner holds the per-item contract shared by both strategies.
type itemRunner struct {
	interp *pipeline.Interpreter
	gate   pipeline.Gate
}

// process runs the rule pipeline over items through one gate and returns the
// records in item order.
func (r *itemRunner) process(ctx context.Context, rule ingest.Rule, items []any) []ingest.Record {
	out := make([]ingest.Record, len(items))
	r.gate.Each(ctx, len(items), func(ctx context.Context, i int) {
		rec := ingest.NewRecordBuilder(rule.Origin)
		r.interp.Run(ctx, items[i], rule.Pipeline, rec)
		frozen := rec.Freeze()
		frozen.NormalizeSpecies()
		out[i] = frozen
	})
	return out
}

// itemsOf resolves the results path of a page to its item list. Anything that
// is not a list counts as no items.
func itemsOf(body any, resultsPath string) []any {
	v, ok := pathexpr.Resolve(body, resultsPath)
	if !ok {
		return nil
	}
	items, _ := v.([]any)
	return items
}
