// Package ingest defines core types shared across subsystems.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownFetchType is returned when a rule names a fetch strategy that does not exist.
var ErrUnknownFetchType = errors.New("unknown fetch type")

// ErrRunNotFound is returned by run stores for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// FetchType selects how a rule walks its source.
type FetchType string

// Supported fetch types.
const (
	FetchAll       FetchType = "ALL"
	FetchPaginated FetchType = "PAGINATED"
)

// UnmarshalText accepts fetch types in any letter case.
func (t *FetchType) UnmarshalText(b []byte) error {
	*t = FetchType(strings.ToUpper(strings.TrimSpace(string(b))))
	return nil
}

// RuleSet is the rule document loaded once per aggregation run.
type RuleSet struct {
	List []Rule `json:"list"`
}

// Rule describes one upstream source and the pipeline applied to each item it yields.
type Rule struct {
	Origin       string    `json:"origin"`
	URL          string    `json:"url"`
	FetchType    FetchType `json:"fetchType"`
	ResultsPath  string    `json:"results"`
	NextPagePath string    `json:"nextPage,omitempty"`
	Pipeline     Pipeline  `json:"pipeline"`
}

// FieldMapping copies the value at ExternalField (a path expression) into Field.
type FieldMapping struct {
	Field         string `json:"field"`
	ExternalField string `json:"externalField"`
}

// RunStatus represents the lifecycle state of an aggregation run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run is the bookkeeping kept for each aggregation.
type Run struct {
	ID        string      `json:"id"`
	Trigger   string      `json:"trigger"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// RunCounters tracks per-run totals.
type RunCounters struct {
	Rules       int `json:"rules"`
	RulesFailed int `json:"rules_failed"`
	Records     int `json:"records"`
}

// RunCompleted is published once a run reaches a terminal status.
type RunCompleted struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	Records  int       `json:"records"`
	Digest   string    `json:"digest,omitempty"`
	Started  time.Time `json:"started_at"`
	Finished time.Time `json:"finished_at"`
	Error    string    `json:"error,omitempty"`
}

// QueueItem wraps a run waiting for the worker.
type QueueItem struct {
	RunID     string
	Trigger   string
	Submitted int64
}

// RuleError reports a rule that contributed nothing to a run.
type RuleError struct {
	Origin string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.Origin, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
