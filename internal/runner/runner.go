// Package runner executes aggregation runs one at a time and keeps their
// bookkeeping.
package runner

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/aggregator"
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/metrics"
	"github.com/JakeFAU/rule-aggregator/internal/storage"
	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

// EventRunCompleted is the event name attached to run notifications.
const EventRunCompleted = "run.completed"

// Triggers recorded on runs.
const (
	TriggerAPI       = "api"
	TriggerCLI       = "cli"
	TriggerAutoFetch = "records-empty"
)

// Aggregation runs one aggregation over the current rule set.
type Aggregation interface {
	Aggregate(ctx context.Context) (aggregator.Result, error)
}

// Runner serializes aggregation runs, whether they come from the queue or are
// executed directly.
type Runner struct {
	agg       Aggregation
	queue     ingest.Queue
	runs      ingest.RunStore
	publisher ingest.Publisher
	clock     ingest.Clock
	ids       ingest.IDGenerator
	hasher    ingest.Hasher
	logger    *zap.Logger

	mu sync.Mutex
}

// New constructs a Runner. The publisher and hasher may be nil.
func New(
	agg Aggregation,
	queue ingest.Queue,
	runs ingest.RunStore,
	publisher ingest.Publisher,
	clock ingest.Clock,
	ids ingest.IDGenerator,
	hasher ingest.Hasher,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		agg:       agg,
		queue:     queue,
		runs:      runs,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		hasher:    hasher,
		logger:    logger,
	}
}

// Submit records a queued run and hands it to the worker loop.
func (r *Runner) Submit(ctx context.Context, trigger string) (ingest.Run, error) {
	run, err := r.createRun(ctx, trigger)
	if err != nil {
		return ingest.Run{}, err
	}
	item := ingest.QueueItem{RunID: run.ID, Trigger: trigger, Submitted: run.Submitted.Unix()}
	if err := r.queue.Enqueue(ctx, item); err != nil {
		if uErr := r.runs.UpdateRunStatus(
			context.WithoutCancel(ctx), run.ID, ingest.RunStatusFailed, err.Error(), ingest.RunCounters{},
		); uErr != nil {
			r.logger.Error("fail run status update", zap.String("run_id", run.ID), zap.Error(uErr))
		}
		return ingest.Run{}, fmt.Errorf("queue enqueue: %w", err)
	}
	r.logger.Info("run queued", zap.String("run_id", run.ID), zap.String("trigger", trigger))
	return run, nil
}

// RunNow records a run and executes it on the calling goroutine, waiting for
// any run already in progress.
func (r *Runner) RunNow(ctx context.Context, trigger string) (ingest.Run, aggregator.Result, error) {
	run, err := r.createRun(ctx, trigger)
	if err != nil {
		return ingest.Run{}, aggregator.Result{}, err
	}
	res, runErr := r.execute(ctx, run.ID)
	final, err := r.runs.GetRun(ctx, run.ID)
	if err != nil {
		final = run
	}
	return final, res, runErr
}

// Run blocks, consuming queued runs until the context finishes.
func (r *Runner) Run(ctx context.Context) {
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		r.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		if _, err := r.execute(ctx, item.RunID); err != nil {
			r.logger.Warn("queued run failed", zap.String("run_id", item.RunID), zap.Error(err))
		}
	}
}

func (r *Runner) createRun(ctx context.Context, trigger string) (ingest.Run, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return ingest.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := ingest.Run{
		ID:        id,
		Trigger:   trigger,
		Status:    ingest.RunStatusQueued,
		Submitted: r.clock.Now(),
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return ingest.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, runID string) (aggregator.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := telemetry.Start(ctx, "aggregation.run", trace.SpanKindInternal, attribute.String("run.id", runID))
	logger := r.logger.With(zap.String("run_id", runID))
	started := r.clock.Now()
	if err := r.runs.UpdateRunStatus(ctx, runID, ingest.RunStatusRunning, "", ingest.RunCounters{}); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		err = fmt.Errorf("mark run running: %w", err)
		telemetry.End(span, err)
		return aggregator.Result{}, err
	}
	logger.Info("run started")

	res, aggErr := r.agg.Aggregate(ctx)
	finished := r.clock.Now()

	counters := ingest.RunCounters{
		Rules:       res.Rules,
		RulesFailed: len(res.RuleErrors),
		Records:     len(res.Records),
	}
	status := ingest.RunStatusSucceeded
	errText := ""
	if aggErr != nil {
		status = ingest.RunStatusFailed
		errText = aggErr.Error()
	}
	if err := r.runs.UpdateRunStatus(context.WithoutCancel(ctx), runID, status, errText, counters); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
	}
	metrics.ObserveRun(string(status), finished.Sub(started))
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("rules", counters.Rules),
		zap.Int("rules_failed", counters.RulesFailed),
		zap.Int("records", counters.Records),
		zap.Duration("duration", finished.Sub(started)),
	)

	var digest string
	if aggErr == nil {
		digest = r.digest(logger, res.Records)
	}
	r.notify(ctx, logger, ingest.RunCompleted{
		RunID:    runID,
		Status:   status,
		Records:  counters.Records,
		Digest:   digest,
		Started:  started,
		Finished: finished,
		Error:    errText,
	})
	span.SetAttributes(
		attribute.Int("run.rules", counters.Rules),
		attribute.Int("run.rules_failed", counters.RulesFailed),
		attribute.Int("run.records", counters.Records),
	)
	telemetry.End(span, aggErr)
	return res, aggErr
}

// digest fingerprints the collection as persisted, so subscribers can skip
// runs that produced an identical collection.
func (r *Runner) digest(logger *zap.Logger, records []ingest.Record) string {
	if r.hasher == nil {
		return ""
	}
	data, err := storage.EncodeRecords(records)
	if err != nil {
		logger.Warn("encode collection for digest failed", zap.Error(err))
		return ""
	}
	sum, err := r.hasher.Hash(data)
	if err != nil {
		logger.Warn("collection digest failed", zap.Error(err))
		return ""
	}
	return sum
}

func (r *Runner) notify(ctx context.Context, logger *zap.Logger, event ingest.RunCompleted) {
	if r.publisher == nil {
		return
	}
	id, err := r.publisher.Publish(context.WithoutCancel(ctx), EventRunCompleted, event)
	if err != nil {
		logger.Warn("publish run notification failed", zap.Error(err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", id))
}
