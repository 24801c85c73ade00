package source

import (
	"context"
	"fmt"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

// FetchAll reads every item from a single response.
type FetchAll struct {
	fetcher ingest.Fetcher
	items   *itemRunner
}

// Collect fetches rule.URL once and processes every item it lists.
func (s *FetchAll) Collect(ctx context.Context, rule ingest.Rule) ([]ingest.Record, error) {
	body, err := s.fetcher.FetchJSON(ctx, rule.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rule.URL, err)
	}
	items := itemsOf(body, rule.ResultsPath)
	if len(items) == 0 {
		return nil, nil
	}
	return s.items.process(ctx, rule, items), nil
}
