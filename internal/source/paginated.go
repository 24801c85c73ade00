package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/pathexpr"
)

// Paginated follows a next-page cursor until the source runs dry.
type Paginated struct {
	fetcher ingest.Fetcher
	items   *itemRunner
	logger  *zap.Logger
}

// Collect walks pages strictly in order starting at rule.URL. Items within a
// page are processed concurrently. A failure on any page fails the rule and
// discards the pages already collected.
func (s *Paginated) Collect(ctx context.Context, rule ingest.Rule) ([]ingest.Record, error) {
	var out []ingest.Record
	cursor := rule.URL
	for page := 1; cursor != ""; page++ {
		body, err := s.fetcher.FetchJSON(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d %s: %w", page, cursor, err)
		}
		items := itemsOf(body, rule.ResultsPath)
		if len(items) == 0 {
			break
		}
		out = append(out, s.items.process(ctx, rule, items)...)
		cursor = nextCursor(body, rule.NextPagePath)
		s.logger.Debug("page processed",
			zap.String("origin", rule.Origin),
			zap.Int("page", page),
			zap.Int("items", len(items)),
		)
	}
	return out, nil
}

func nextCursor(body any, path string) string {
	if path == "" {
		return ""
	}
	v, ok := pathexpr.Resolve(body, path)
	if !ok {
		return ""
	}
	next, _ := v.(string)
	return next
}
