// Package pipeline executes rule pipelines against fetched payloads.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/pathexpr"
)

// Interpreter walks a pipeline, overlaying extracted values onto a record and
// following Fetch links through the gate.
type Interpreter struct {
	fetcher ingest.Fetcher
	gate    Gate
	logger  *zap.Logger
}

// NewInterpreter constructs an Interpreter.
func NewInterpreter(fetcher ingest.Fetcher, gate Gate, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		fetcher: fetcher,
		gate:    gate,
		logger:  logger,
	}
}

// Run applies the actions of p in order to payload, writing into rec. Failed
// links are logged and skipped; Run itself never fails.
func (in *Interpreter) Run(ctx context.Context, payload any, p ingest.Pipeline, rec *ingest.RecordBuilder) {
	for _, action := range p {
		switch a := action.(type) {
		case ingest.GetValue:
			rec.Overlay(Extract(payload, a.Fields))
		case ingest.Fetch:
			in.follow(ctx, payload, a, rec)
		default:
			in.logger.Warn("skipping unsupported action", zap.String("type", fmt.Sprintf("%T", action)))
		}
	}
}

func (in *Interpreter) follow(ctx context.Context, payload any, a ingest.Fetch, rec *ingest.RecordBuilder) {
	urls := in.linkTargets(payload, a.URLPath)
	in.gate.Each(ctx, len(urls), func(ctx context.Context, i int) {
		body, err := in.fetcher.FetchJSON(ctx, urls[i])
		if err != nil {
			in.logger.Warn("link fetch failed", zap.String("url", urls[i]), zap.Error(err))
			return
		}
		in.Run(ctx, body, a.Pipeline, rec)
	})
}

// linkTargets turns the value at path into a URL list: absent yields none, a
// scalar yields one and a list is used as-is.
func (in *Interpreter) linkTargets(payload any, path string) []string {
	v, ok := pathexpr.Resolve(payload, path)
	if !ok {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		list = []any{v}
	}
	urls := make([]string, 0, len(list))
	for _, item := range list {
		s, isString := item.(string)
		if !isString || s == "" {
			in.logger.Debug("ignoring non-URL link value", zap.String("path", path), zap.Any("value", item))
			continue
		}
		urls = append(urls, s)
	}
	return urls
}
