// Package main hosts the aggregator service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the aggregated collection (/v1/records and the
//     /characters alias) and run management endpoints. Reading an empty collection triggers a synchronous run.
//   - Runs: POST /v1/runs records a queued run in the run store and enqueues it on a bounded in-memory queue sized by
//     runs.queue_depth. A single runner loop consumes the queue; direct runs from the API or CLI share its mutex, so
//     at most one aggregation executes at a time.
//   - Aggregation: the rule document is re-read at the start of every run. Each rule is collected by its source
//     strategy (ALL or paginated), items are interpreted by the rule pipeline (GET_VALUE / FETCH), and every outbound
//     request goes through the Colly-based fetcher behind a shared concurrency gate sized by aggregator.concurrency.
//   - Persistence & fanout: the sorted collection replaces the previous one in the configured RecordStore
//     (local file, GCS object, Postgres table or memory). A run.completed notification is published to Pub/Sub when
//     a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Upstream failures are contained: a failing rule contributes nothing, a failing nested fetch leaves its fields
//     unset, and a failing page of a paginated source fails that rule.
//   - The process reacts to SIGTERM by draining the HTTP server and stopping the runner loop.
//
// Quick checklist:
//   - Configure env vars: AGGREGATOR_SERVER_PORT, AGGREGATOR_AGGREGATOR_RULES_PATH, AGGREGATOR_AGGREGATOR_CONCURRENCY,
//     AGGREGATOR_HTTP_TIMEOUT_SECONDS, storage (AGGREGATOR_STORAGE_*), database DSN/table and pubsub when needed.
//   - Run locally: go run ./cmd/aggregator -config config.yaml, or use the CLI: go run . serve / go run . aggregate.
package main
