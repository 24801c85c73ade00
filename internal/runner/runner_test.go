package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/aggregator"
	"github.com/JakeFAU/rule-aggregator/internal/hash/sha256"
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	publishermemory "github.com/JakeFAU/rule-aggregator/internal/publisher/memory"
	queuememory "github.com/JakeFAU/rule-aggregator/internal/queue/memory"
	storagememory "github.com/JakeFAU/rule-aggregator/internal/storage/memory"
)

type fakeAggregation struct {
	mu      sync.Mutex
	results []aggregator.Result
	errs    []error
	calls   int

	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeAggregation) Aggregate(context.Context) (aggregator.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var res aggregator.Result
	if i < len(f.results) {
		res = f.results[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	n atomic.Int32
}

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", g.n.Add(1)), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type harness struct {
	runner    *Runner
	agg       *fakeAggregation
	queue     *queuememory.Queue
	runs      *storagememory.RunStore
	publisher *publishermemory.Publisher
}

func newHarness(agg *fakeAggregation) harness {
	h := harness{
		agg:       agg,
		queue:     queuememory.NewQueue(4),
		runs:      storagememory.NewRunStore(),
		publisher: publishermemory.New(zap.NewNop()),
	}
	h.runner = New(agg, h.queue, h.runs, h.publisher, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, &seqIDs{}, sha256.New(), zap.NewNop())
	return h
}

func TestRunNowSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeAggregation{results: []aggregator.Result{{
		Records:    []ingest.Record{{"name": "Rick"}, {"name": "Morty"}},
		Rules:      3,
		RuleErrors: []*ingest.RuleError{{Origin: "down", Err: errors.New("boom")}},
	}}})

	run, res, err := h.runner.RunNow(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, ingest.RunStatusSucceeded, run.Status)
	assert.Equal(t, TriggerCLI, run.Trigger)
	assert.Equal(t, ingest.RunCounters{Rules: 3, RulesFailed: 1, Records: 2}, run.Counters)
	require.NotNil(t, run.Started)
	require.NotNil(t, run.Finished)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventRunCompleted, msgs[0].Topic)
	event, ok := msgs[0].Payload.(ingest.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, run.ID, event.RunID)
	assert.Equal(t, 2, event.Records)
	assert.Len(t, event.Digest, 64)
	assert.True(t, event.Finished.After(event.Started))
}

func TestRunNowRecordsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeAggregation{errs: []error{errors.New("load rules: missing")}})

	run, res, err := h.runner.RunNow(context.Background(), TriggerAutoFetch)
	require.Error(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, ingest.RunStatusFailed, run.Status)
	assert.Equal(t, "load rules: missing", run.ErrorText)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(ingest.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, ingest.RunStatusFailed, event.Status)
	assert.Equal(t, "load rules: missing", event.Error)
	assert.Empty(t, event.Digest)
}

func TestRunNowIDFailure(t *testing.T) {
	t.Parallel()

	r := New(&fakeAggregation{}, queuememory.NewQueue(1), storagememory.NewRunStore(), nil,
		&fakeClock{}, failingIDs{}, nil, nil)
	_, _, err := r.RunNow(context.Background(), TriggerCLI)
	require.Error(t, err)
}

func TestSubmitAndWorkerLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeAggregation{results: []aggregator.Result{
		{Records: []ingest.Record{{"name": "A"}}, Rules: 1},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := h.runner.Submit(ctx, TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, ingest.RunStatusQueued, run.Status)

	stored, err := h.runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.RunStatusQueued, stored.Status)

	done := make(chan struct{})
	go func() {
		h.runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := h.runs.GetRun(ctx, run.ID)
		return err == nil && got.Status == ingest.RunStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

func TestSubmitEnqueueFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeAggregation{})
	h.queue.Close()

	_, err := h.runner.Submit(context.Background(), TriggerAPI)
	require.ErrorIs(t, err, queuememory.ErrClosed)

	runs, err := h.runs.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ingest.RunStatusFailed, runs[0].Status)
}

func TestRunsAreSerialized(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregation{delay: 20 * time.Millisecond}
	h := newHarness(agg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.runner.Run(ctx)

	for range 2 {
		_, err := h.runner.Submit(ctx, TriggerAPI)
		require.NoError(t, err)
	}
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = h.runner.RunNow(ctx, TriggerCLI)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		runs, err := h.runs.ListRuns(ctx)
		if err != nil || len(runs) != 5 {
			return false
		}
		for _, run := range runs {
			if !run.Status.Terminal() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), agg.maxActive.Load())
}

func TestRunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	h := newHarness(&fakeAggregation{})
	done := make(chan struct{})
	go func() {
		h.runner.Run(context.Background())
		close(done)
	}()
	h.queue.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after queue close")
	}
}

func TestDigestStableAcrossIdenticalRuns(t *testing.T) {
	t.Parallel()

	records := []ingest.Record{{"name": "Morty", "origin": "rm"}, {"name": "Rick", "origin": "rm"}}
	h := newHarness(&fakeAggregation{results: []aggregator.Result{
		{Records: records, Rules: 1},
		{Records: records, Rules: 1},
		{Records: records[:1], Rules: 1},
	}})
	for i := 0; i < 3; i++ {
		_, _, err := h.runner.RunNow(context.Background(), TriggerAPI)
		require.NoError(t, err)
	}

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 3)
	digests := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		event, ok := msg.Payload.(ingest.RunCompleted)
		require.True(t, ok)
		digests = append(digests, event.Digest)
	}
	assert.Equal(t, digests[0], digests[1])
	assert.NotEqual(t, digests[0], digests[2])
}
