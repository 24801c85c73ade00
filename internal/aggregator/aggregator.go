// Package aggregator runs every rule of a rule set, merges the records into one
// sorted collection and persists it.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/metrics"
	"github.com/JakeFAU/rule-aggregator/internal/source"
	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

// Strategies resolves the source strategy for a rule.
type Strategies interface {
	For(rule ingest.Rule) (source.Strategy, error)
}

// Result is the outcome of one aggregation.
type Result struct {
	Records    []ingest.Record
	Rules      int
	RuleErrors []*ingest.RuleError
}

// Aggregator combines rule loading, source strategies and persistence.
type Aggregator struct {
	rules      ingest.RuleSource
	strategies Strategies
	store      ingest.RecordStore
	logger     *zap.Logger
}

// New constructs an Aggregator.
func New(rules ingest.RuleSource, strategies Strategies, store ingest.RecordStore, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		rules:      rules,
		strategies: strategies,
		store:      store,
		logger:     logger,
	}
}

// Aggregate loads the rule set, collects every rule in order, sorts the
// combined records by name and replaces the stored collection. Only a rule
// set that cannot be loaded fails the run; failing rules contribute nothing.
func (a *Aggregator) Aggregate(ctx context.Context) (Result, error) {
	set, err := a.rules.Load(ctx)
	if err != nil {
		a.logger.Error("rule set load failed", zap.Error(err))
		return Result{}, fmt.Errorf("load rules: %w", err)
	}

	res := Result{Rules: len(set.List)}
	for _, rule := range set.List {
		records, err := a.collect(ctx, rule)
		if err != nil {
			ruleErr := &ingest.RuleError{Origin: rule.Origin, Err: err}
			res.RuleErrors = append(res.RuleErrors, ruleErr)
			a.logger.Error("rule failed; contributing no records", zap.String("origin", rule.Origin), zap.Error(err))
			metrics.ObserveRule(rule.Origin, "failed", 0)
			continue
		}
		metrics.ObserveRule(rule.Origin, "succeeded", len(records))
		res.Records = append(res.Records, records...)
	}
	if res.Records == nil {
		res.Records = []ingest.Record{}
	}

	SortByName(res.Records)

	if err := a.store.Save(ctx, res.Records); err != nil {
		a.logger.Error("persist records failed", zap.Error(err))
	} else {
		metrics.SetStoredRecords(len(res.Records))
	}
	return res, nil
}

func (a *Aggregator) collect(ctx context.Context, rule ingest.Rule) (records []ingest.Record, err error) {
	ctx, span := telemetry.Start(ctx, "aggregation.rule", trace.SpanKindInternal,
		attribute.String("rule.origin", rule.Origin),
		attribute.String("rule.fetch_type", string(rule.FetchType)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("rule.records", len(records)))
		telemetry.End(span, err)
	}()

	start := time.Now()
	a.logger.Info("start handling rule", zap.String("origin", rule.Origin), zap.String("fetch_type", string(rule.FetchType)))
	st, err := a.strategies.For(rule)
	if err != nil {
		return nil, err
	}
	records, err = st.Collect(ctx, rule)
	if err != nil {
		return nil, err
	}
	a.logger.Info("rule handled",
		zap.String("origin", rule.Origin),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// Stored returns the persisted collection. A missing or unreadable store
// yields an empty collection.
func (a *Aggregator) Stored(ctx context.Context) []ingest.Record {
	records, err := a.store.Load(ctx)
	if err != nil {
		a.logger.Debug("stored records unavailable", zap.Error(err))
		return []ingest.Record{}
	}
	if records == nil {
		return []ingest.Record{}
	}
	return records
}
