package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/ingest"
)

type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	fail    map[string]bool
	fetched []string
}

func (f *fakeFetcher) FetchJSON(_ context.Context, url string) (any, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if f.fail[url] {
		return nil, errors.New("connection refused")
	}
	raw, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("not found")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func payload(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestExtractAccumulatesInMappingOrder(t *testing.T) {
	t.Parallel()

	p := map[string]any{"a": "a", "b": "b", "c": "c"}
	got := Extract(p, []ingest.FieldMapping{
		{Field: "letters", ExternalField: "a"},
		{Field: "letters", ExternalField: "missing"},
		{Field: "letters", ExternalField: "b"},
		{Field: "letters", ExternalField: "c"},
		{Field: "first", ExternalField: "a"},
	})
	assert.Equal(t, map[string]any{
		"letters": []any{"a", "b", "c"},
		"first":   "a",
	}, got)
}

func TestExtractSkipsAbsent(t *testing.T) {
	t.Parallel()

	got := Extract(map[string]any{"x": nil}, []ingest.FieldMapping{{Field: "x", ExternalField: "x"}})
	assert.Empty(t, got)
}

func TestRunGetValueOverlayOverwrites(t *testing.T) {
	t.Parallel()

	in := NewInterpreter(&fakeFetcher{}, NewGate(4), zap.NewNop())
	rec := ingest.NewRecordBuilder("origin")
	p := ingest.Pipeline{
		ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "name", ExternalField: "first"}}},
		ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "name", ExternalField: "second"}}},
	}
	in.Run(context.Background(), map[string]any{"first": "A", "second": "B"}, p, rec)

	got := rec.Freeze()
	assert.Equal(t, "B", got["name"])
	assert.Equal(t, "origin", got["origin"])
}

func TestRunFetchFailureIsIsolated(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		bodies: map[string]string{
			"http://up/species/1": `{"name":"Human"}`,
			"http://up/planet/1":  `{"name":"Tatooine"}`,
		},
		fail: map[string]bool{"http://up/species/2": true},
	}
	in := NewInterpreter(f, NewGate(2), zap.NewNop())
	rec := ingest.NewRecordBuilder("swapi")
	p := ingest.Pipeline{
		ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "name", ExternalField: "name"}}},
		ingest.Fetch{
			URLPath: "species[]",
			Pipeline: ingest.Pipeline{
				ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "species", ExternalField: "name"}}},
			},
		},
		ingest.Fetch{
			URLPath: "homeworld",
			Pipeline: ingest.Pipeline{
				ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "homeworld", ExternalField: "name"}}},
			},
		},
	}
	item := payload(t, `{"name":"Luke","species":["http://up/species/2","http://up/species/1"],"homeworld":"http://up/planet/1"}`)
	in.Run(context.Background(), item, p, rec)

	got := rec.Freeze()
	assert.Equal(t, "Luke", got["name"])
	assert.Equal(t, "Human", got["species"])
	assert.Equal(t, "Tatooine", got["homeworld"])
	assert.ElementsMatch(t, []string{"http://up/species/2", "http://up/species/1", "http://up/planet/1"}, f.fetched)
}

func TestRunNestedFetch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string]string{
		"http://up/episode/1": `{"name":"Pilot","characters":["http://up/c/1"]}`,
		"http://up/c/1":       `{"origin":{"url":"http://up/loc/1"}}`,
		"http://up/loc/1":     `{"dimension":"C-137"}`,
	}}
	in := NewInterpreter(f, NewGate(1), zap.NewNop())
	rec := ingest.NewRecordBuilder("rm")
	p := ingest.Pipeline{
		ingest.Fetch{URLPath: "episode", Pipeline: ingest.Pipeline{
			ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "first_episode", ExternalField: "name"}}},
			ingest.Fetch{URLPath: "characters[]", Pipeline: ingest.Pipeline{
				ingest.Fetch{URLPath: "origin.url", Pipeline: ingest.Pipeline{
					ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "dimension", ExternalField: "dimension"}}},
				}},
			}},
		}},
	}
	in.Run(context.Background(), map[string]any{"episode": "http://up/episode/1"}, p, rec)

	got := rec.Freeze()
	assert.Equal(t, "Pilot", got["first_episode"])
	assert.Equal(t, "C-137", got["dimension"])
}

func TestRunFetchAbsentAndNonStringLinks(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	in := NewInterpreter(f, NewGate(2), zap.NewNop())
	rec := ingest.NewRecordBuilder("o")
	p := ingest.Pipeline{
		ingest.Fetch{URLPath: "missing"},
		ingest.Fetch{URLPath: "links[]"},
	}
	in.Run(context.Background(), payload(t, `{"links":[1,null,""]}`), p, rec)
	assert.Empty(t, f.fetched)
}

func TestRunNonJSONBodySkipped(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string]string{"http://up/bad": `<html>`}}
	in := NewInterpreter(f, NewGate(2), zap.NewNop())
	rec := ingest.NewRecordBuilder("o")
	p := ingest.Pipeline{
		ingest.Fetch{URLPath: "link", Pipeline: ingest.Pipeline{
			ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "x", ExternalField: "x"}}},
		}},
		ingest.GetValue{Fields: []ingest.FieldMapping{{Field: "name", ExternalField: "name"}}},
	}
	in.Run(context.Background(), map[string]any{"link": "http://up/bad", "name": "kept"}, p, rec)

	got := rec.Freeze()
	assert.Equal(t, "kept", got["name"])
	_, ok := got["x"]
	assert.False(t, ok)
}

func TestGateBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const n, limit = 40, 3
	var active, peak atomic.Int64
	seen := make([]atomic.Bool, n)

	NewGate(limit).Each(context.Background(), n, func(_ context.Context, i int) {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		seen[i].Store(true)
		active.Add(-1)
	})

	assert.LessOrEqual(t, peak.Load(), int64(limit))
	for i := range seen {
		assert.True(t, seen[i].Load(), "index %d not visited", i)
	}
}

func TestGateDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultConcurrency, NewGate(0).Limit())
	assert.Equal(t, DefaultConcurrency, Gate{}.Limit())
	assert.Equal(t, 7, NewGate(7).Limit())

	called := false
	NewGate(1).Each(context.Background(), 0, func(context.Context, int) { called = true })
	assert.False(t, called)
}
