package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/config"
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/rules"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"name":"Rick","kind":"human"},{"name":"Morty","kind":"human"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	doc := fmt.Sprintf(`{"list":[{"origin":"test","url":%q,"fetchType":"ALL","results":"results",
		"pipeline":[{"act":"GET_VALUE","fields":[{"field":"name","externalField":"name"},{"field":"kind","externalField":"kind"}]}]}]}`,
		upstreamURL)
	require.NoError(t, os.WriteFile(rulesPath, []byte(doc), 0o600))

	return &config.Config{
		Server:     config.ServerConfig{Port: 0},
		HTTP:       config.HTTPConfig{TimeoutSeconds: 5, UserAgent: "rule-aggregator-test"},
		Aggregator: config.AggregatorConfig{RulesPath: rulesPath, Concurrency: 4},
		Storage:    config.StorageConfig{Backend: config.BackendMemory},
		Runs:       config.RunsConfig{QueueDepth: 4},
	}
}

func names(records []ingest.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name())
	}
	return out
}

func TestBuildServesRecordsAfterAutoFetch(t *testing.T) {
	upstream := newUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ingest.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"Morty", "Rick"}, names(got))

	// The second read comes from the store.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/characters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestRunOnce(t *testing.T) {
	upstream := newUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	run, res, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, res.Rules)
	assert.Equal(t, []string{"Morty", "Rick"}, names(res.Records))
}

func TestReadinessFailsWhenRulesMissing(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, os.Remove(cfg.Aggregator.RulesPath))
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRejectsUnusableLocalPath(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Storage = config.StorageConfig{
		Backend: config.BackendLocal,
		Local:   config.LocalStorageConfig{Path: filepath.Join(blocker, "db.json")},
	}

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "local record store")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	upstream := newUpstream(t)
	app, err := Build(context.Background(), testConfig(t, upstream.URL), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSetupRulesFromStdin(t *testing.T) {
	app := &App{
		cfg:    &config.Config{Aggregator: config.AggregatorConfig{RulesPath: StdinRules}},
		logger: zap.NewNop(),
	}
	doc := `{"list":[{"origin":"piped","url":"http://example.invalid","fetchType":"ALL","results":"results","pipeline":[]}]}`

	source, err := setupRules(app, strings.NewReader(doc))
	require.NoError(t, err)
	require.IsType(t, rules.Static{}, source)
	assert.Empty(t, app.ready, "stdin rules need no readiness check")

	set, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, set.List, 1)
	assert.Equal(t, "piped", set.List[0].Origin)

	_, err = setupRules(app, strings.NewReader("not json"))
	assert.ErrorContains(t, err, "parse rules from stdin")
}
