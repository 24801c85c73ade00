package ingest

import (
	"context"
	"time"
)

// Fetcher issues one GET per URL and decodes the JSON body.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string) (any, error)
}

// RuleSource loads the rule set for a run.
type RuleSource interface {
	Load(ctx context.Context) (RuleSet, error)
}

// RecordStore persists the aggregated collection wholesale.
type RecordStore interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
}

// RunStore persists run bookkeeping.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for pending runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests an encoded collection.
type Hasher interface {
	Hash(data []byte) (string, error)
}
