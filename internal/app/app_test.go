// Package app_test contains unit tests for the app package.
package app_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/threadcrawler/internal/app"
	"github.com/JakeFAU/threadcrawler/internal/config"
	"github.com/JakeFAU/threadcrawler/internal/crawler"
	pgsink "github.com/JakeFAU/threadcrawler/internal/sink/postgres"
)

// MockSink mocks crawler.Sink.
type MockSink struct {
	mock.Mock
}

// Write satisfies crawler.Sink for the mock.
func (m *MockSink) Write(ctx context.Context, record crawler.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// Close satisfies crawler.Sink for the mock.
func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// forbiddenFactories fail the test if any remote client is opened.
func forbiddenFactories(t *testing.T) app.Factories {
	t.Helper()
	return app.Factories{
		Storage: func(context.Context) (*storage.Client, error) {
			t.Error("storage client must not be opened")
			return nil, errors.New("unexpected")
		},
		PubSub: func(context.Context, string) (*pubsub.Client, error) {
			t.Error("pubsub client must not be opened")
			return nil, errors.New("unexpected")
		},
		Postgres: func(context.Context, pgsink.Config) (crawler.Sink, error) {
			t.Error("postgres must not be opened")
			return nil, errors.New("unexpected")
		},
	}
}

func newForumServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/list-1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
<a name="readlink" href="read-htm-tid-1.html">one</a>
<a name="readlink" href="read-htm-tid-2.html">two</a>
</body></html>`)
	})
	mux.HandleFunc("/read.php", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("tid")
		fmt.Fprintf(w, `<html><body><div class="ui-list-title">title %s</div>`+
			`<div class="detail"><p>body %s</p></div></body></html>`, id, id)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	return config.Config{
		Crawl: config.CrawlConfig{
			Start:       1,
			End:         2,
			Concurrency: 2,
			LimitRetry:  2,
			ListingURL:  baseURL + "/list-%d.html",
			DetailURL:   baseURL + "/read.php?tid=%s",
			Charset:     "utf-8",
		},
		HTTP: config.HTTPConfig{
			UserAgent: "threadcrawler-test",
			Timeout:   5 * time.Second,
		},
		Output: config.OutputConfig{
			Outfile:       filepath.Join(t.TempDir(), "threads.jsonl"),
			PostgresTable: "thread_records",
		},
	}
}

func readRecords(t *testing.T, path string) map[string]crawler.Record {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	out := make(map[string]crawler.Record)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec crawler.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out[rec.ID] = rec
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	server := newForumServer(t)
	cfg := testConfig(t, server.URL)

	a, err := app.New(context.Background(), cfg, "run-1", zap.NewNop(), forbiddenFactories(t))
	require.NoError(t, err)
	assert.Equal(t, "run-1", a.RunID())

	summary := a.Run(context.Background())
	require.NoError(t, a.Close())

	// Page 2 does not exist and is skipped after its attempts.
	assert.EqualValues(t, 1, summary.PagesScanned)
	assert.EqualValues(t, 1, summary.PagesFailed)
	assert.EqualValues(t, 2, summary.IDsDiscovered)
	assert.EqualValues(t, 2, summary.RecordsWritten)
	assert.Equal(t, summary, a.Progress())

	records := readRecords(t, cfg.Output.Outfile)
	require.Len(t, records, 2)
	assert.Equal(t, crawler.Record{
		ID:         "1",
		Title:      "title 1",
		Content:    "body 1",
		RawContent: `<div class="detail"><p>body 1</p></div>`,
	}, records["1"])
	assert.Equal(t, "title 2", records["2"].Title)
}

func TestNewRejectsUnwritableOutfile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://forum.test")
	cfg.Output.Outfile = filepath.Join(t.TempDir(), "missing-dir", "threads.jsonl")
	cfg.Output.GCSURI = "gs://bucket/threads.jsonl"

	_, err := app.New(context.Background(), cfg, "run-1", nil, forbiddenFactories(t))
	require.ErrorContains(t, err, "open output file")
}

func TestNewReportsClientFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://forum.test")
	cfg.Output.GCSURI = "gs://bucket/threads.jsonl"
	f := forbiddenFactories(t)
	f.Storage = func(context.Context) (*storage.Client, error) {
		return nil, errors.New("no credentials")
	}

	_, err := app.New(context.Background(), cfg, "run-1", nil, f)
	require.ErrorContains(t, err, "storage client: no credentials")

	// The outfile was still created and released.
	info, statErr := os.Stat(cfg.Output.Outfile)
	require.NoError(t, statErr)
	assert.Zero(t, info.Size())
}

func TestNewAbortsUploadWhenLaterSinkFails(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	gcsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		uploads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gcsServer.Close)

	cfg := testConfig(t, "https://forum.test")
	cfg.Output.GCSURI = "gs://bucket/threads.jsonl"
	cfg.Output.PostgresDSN = "postgres://crawler@localhost/threads"
	f := forbiddenFactories(t)
	f.Storage = func(ctx context.Context) (*storage.Client, error) {
		return storage.NewClient(ctx, option.WithEndpoint(gcsServer.URL), option.WithoutAuthentication())
	}
	f.Postgres = func(context.Context, pgsink.Config) (crawler.Sink, error) {
		return nil, errors.New("connection refused")
	}

	_, err := app.New(context.Background(), cfg, "run-1", nil, f)
	require.ErrorContains(t, err, "postgres sink: connection refused")
	assert.Zero(t, uploads.Load(), "no object may be committed for a crawl that never started")
}

func TestRunFansOutToPostgres(t *testing.T) {
	t.Parallel()

	server := newForumServer(t)
	cfg := testConfig(t, server.URL)
	cfg.Crawl.End = 1
	cfg.Output.PostgresDSN = "postgres://crawler@localhost/threads"

	pg := &MockSink{}
	pg.On("Write", mock.Anything, mock.MatchedBy(func(r crawler.Record) bool {
		return r.ID == "1" || r.ID == "2"
	})).Return(nil).Twice()
	pg.On("Close").Return(nil).Once()

	f := forbiddenFactories(t)
	var gotCfg pgsink.Config
	f.Postgres = func(_ context.Context, c pgsink.Config) (crawler.Sink, error) {
		gotCfg = c
		return pg, nil
	}

	a, err := app.New(context.Background(), cfg, "run-9", nil, f)
	require.NoError(t, err)
	summary := a.Run(context.Background())
	require.NoError(t, a.Close())

	assert.EqualValues(t, 2, summary.RecordsWritten)
	assert.Equal(t, "run-9", gotCfg.RunID)
	assert.Equal(t, "thread_records", gotCfg.Table)
	pg.AssertExpectations(t)
	assert.Len(t, readRecords(t, cfg.Output.Outfile), 2)
}

func TestNewRejectsUnknownCharset(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://forum.test")
	cfg.Crawl.Charset = "klingon"

	_, err := app.New(context.Background(), cfg, "run-1", nil, forbiddenFactories(t))
	require.ErrorContains(t, err, "http fetcher")
}
