// Package collyfetcher implements ingest.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/rule-aggregator/internal/metrics"
	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

// DefaultTimeout bounds a single GET when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Upstream request outcomes reported to metrics.
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeDecode    = "decode_error"
	OutcomeCanceled  = "canceled"
)

// Limiter delays a request until its host may be contacted again.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Transport http.RoundTripper
	// MaxBodyBytes caps a response body; larger bodies are truncated and fail
	// to decode. Zero means unlimited.
	MaxBodyBytes int
	// Limiter is optional.
	Limiter Limiter
}

// Fetcher issues one unauthenticated GET per URL through a Colly collector and
// decodes the body as JSON.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. Clones share the base collector's HTTP client, so
// everything touching the client is configured here, before any clone.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c.SetRequestTimeout(timeout)
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// FetchJSON GETs url once and returns the decoded JSON body. Non-2xx
// responses, transport failures and non-JSON bodies are errors.
func (f *Fetcher) FetchJSON(ctx context.Context, url string) (any, error) {
	ctx, span := telemetry.Start(ctx, "upstream.get", trace.SpanKindClient,
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.url", url),
	)
	payload, status, err := f.fetch(ctx, url)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	telemetry.End(span, err)
	return payload, err
}

// fetch returns the decoded body and the response status, zero when no
// response was seen.
func (f *Fetcher) fetch(ctx context.Context, url string) (any, int, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
			metrics.ObserveUpstreamRequest(url, OutcomeCanceled, 0)
			return nil, 0, err
		}
	}
	var result fetchResult
	start := time.Now()
	collector := f.buildCollector(ctx, &result)

	status, err := f.runCollector(ctx, collector, url, &result)
	if err != nil {
		outcome := OutcomeHTTPError
		if ctx.Err() != nil {
			outcome = OutcomeCanceled
		}
		metrics.ObserveUpstreamRequest(url, outcome, time.Since(start))
		return nil, status, err
	}

	var payload any
	if err := json.Unmarshal(result.body, &payload); err != nil {
		metrics.ObserveUpstreamRequest(url, OutcomeDecode, time.Since(start))
		return nil, status, fmt.Errorf("decode json from %s: %w", url, err)
	}
	metrics.ObserveUpstreamRequest(url, OutcomeOK, time.Since(start))
	return payload, status, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.OnRequest(func(r *colly.Request) {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(*r.Headers))
	})
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// runCollector visits url and reports the response status. result is only
// read after the visit returned; on cancellation the status is zero.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) (int, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return result.status, fmt.Errorf("colly visit %s failed: %w", url, err)
		}
		if result.err != nil {
			return result.status, fmt.Errorf("colly response %s failed: %w", url, result.err)
		}
		if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
			return result.status, fmt.Errorf("unexpected status %d from %s", result.status, url)
		}
		return result.status, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
