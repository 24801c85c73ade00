// Package rules loads the rule document that drives an aggregation run.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// FileSource reads the rule document from disk on every Load, so edits take
// effect on the next run without a restart.
type FileSource struct {
	path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) (*FileSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("rules path is required")
	}
	return &FileSource{path: path}, nil
}

// Path returns the rule document location.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads and decodes the rule document.
func (s *FileSource) Load(_ context.Context) (ingest.RuleSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ingest.RuleSet{}, fmt.Errorf("read rules %s: %w", s.path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return ingest.RuleSet{}, fmt.Errorf("parse rules %s: %w", s.path, err)
	}
	return set, nil
}

// Parse decodes a rule document of the form {"list": [...]}. Only the
// document shape is checked; rule contents are interpreted at run time.
func Parse(data []byte) (ingest.RuleSet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ingest.RuleSet{}, fmt.Errorf("empty rule document")
	}
	var set ingest.RuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return ingest.RuleSet{}, fmt.Errorf("decode rule document: %w", err)
	}
	return set, nil
}

// Static serves a fixed rule set, such as one read from stdin at startup.
type Static struct {
	Set ingest.RuleSet
}

// Load returns the fixed rule set.
func (s Static) Load(context.Context) (ingest.RuleSet, error) {
	return s.Set, nil
}
