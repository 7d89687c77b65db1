package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository/memrepo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func csvHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}
}

func statusHandler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

func fetchOutput(t *testing.T, result Result) URLFetchOutput {
	t.Helper()
	out, ok := result.Output.(URLFetchOutput)
	require.True(t, ok, "unexpected output %T", result.Output)
	return out
}

func TestURLFetchStoresFileAndQueuesDetection(t *testing.T) {
	server := newCountingServer(t, csvHandler(festivalCSV))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))

	result, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL: server.URL + "/exports/festival.csv",
		CatalogID: h.catalog.ID,
		OwnerID:   h.owner,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.True(t, out.Success)
	assert.False(t, out.IsDuplicate)
	assert.Equal(t, "festival.csv", out.Filename)
	assert.Equal(t, fetch.Hash([]byte(festivalCSV)), out.ContentHash)
	assert.Equal(t, 1, out.Attempts)

	file, err := h.store.Files.GetByID(context.Background(), out.ImportFileID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceURL, file.Source)
	payload, err := h.blobs.Get(context.Background(), file.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, festivalCSV, string(payload))

	require.Len(t, h.queue.Enqueued(TaskDatasetDetection), 1)

	h.drain(t)
	assert.Equal(t, domain.StageCompleted, h.jobForFile(t, file.ID).Stage)
}

func TestURLFetchDeduplicatesByContentHash(t *testing.T) {
	server := newCountingServer(t, csvHandler(festivalCSV))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))
	input := task(t, TaskURLFetch, URLFetchInput{SourceURL: server.URL + "/a.csv", CatalogID: h.catalog.ID})

	first, err := h.pipeline.URLFetch(context.Background(), input)
	require.NoError(t, err)
	second, err := h.pipeline.URLFetch(context.Background(), input)
	require.NoError(t, err)

	firstOut, secondOut := fetchOutput(t, first), fetchOutput(t, second)
	assert.True(t, secondOut.Success)
	assert.True(t, secondOut.IsDuplicate)
	assert.Equal(t, firstOut.ImportFileID, secondOut.ImportFileID)

	files := h.store.Files.(*memrepo.Files)
	assert.Equal(t, 1, files.CreateCalls())
	assert.Len(t, h.queue.Enqueued(TaskDatasetDetection), 1)
	assert.Len(t, h.blobs.Keys("raw/"), 1)
}

func TestURLFetchSkipDuplicateCheckingStoresCopy(t *testing.T) {
	server := newCountingServer(t, csvHandler(festivalCSV))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))
	ctx := context.Background()

	_, err := h.pipeline.URLFetch(ctx, task(t, TaskURLFetch, URLFetchInput{SourceURL: server.URL, CatalogID: h.catalog.ID}))
	require.NoError(t, err)
	result, err := h.pipeline.URLFetch(ctx, task(t, TaskURLFetch, URLFetchInput{
		SourceURL:             server.URL,
		CatalogID:             h.catalog.ID,
		SkipDuplicateChecking: true,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.True(t, out.Success)
	assert.True(t, out.IsDuplicate)
	assert.Equal(t, 2, h.store.Files.(*memrepo.Files).Len())
	assert.Len(t, h.queue.Enqueued(TaskDatasetDetection), 2)
}

func TestURLFetchRejectsOversizedPayload(t *testing.T) {
	server := newCountingServer(t, csvHandler(strings.Repeat("a,b\n", 64)))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{MaxBytes: 16})))
	maxRetries := 3

	result, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL:  server.URL,
		CatalogID:  h.catalog.ID,
		MaxRetries: &maxRetries,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "too large")
	assert.Equal(t, 1, out.Attempts)
	assert.EqualValues(t, 1, server.hits.Load())
	assert.Zero(t, h.store.Files.(*memrepo.Files).Len())
	assert.Empty(t, h.blobs.Keys(""))
}

func TestURLFetchRetriesServerErrors(t *testing.T) {
	server := newCountingServer(t, statusHandler(http.StatusServiceUnavailable))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))
	maxRetries := 2

	result, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL:  server.URL,
		CatalogID:  h.catalog.ID,
		MaxRetries: &maxRetries,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, server.hits.Load())
	assert.Contains(t, out.Error, "503")
}

func TestURLFetchDoesNotRetryClientErrors(t *testing.T) {
	server := newCountingServer(t, statusHandler(http.StatusNotFound))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))
	maxRetries := 5

	result, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL:  server.URL,
		CatalogID:  h.catalog.ID,
		MaxRetries: &maxRetries,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.False(t, out.Success)
	assert.EqualValues(t, 1, server.hits.Load())
}

func TestURLFetchQuotaExhaustedSkipsNetwork(t *testing.T) {
	server := newCountingServer(t, csvHandler(festivalCSV))
	limits := quota.NewMemory(quota.Limits{quota.KindURLImports: 1})
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})), withQuota(limits))
	require.NoError(t, limits.IncrementUsage(context.Background(), quota.KindURLImports, h.owner, 1))

	result, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL: server.URL,
		CatalogID: h.catalog.ID,
		OwnerID:   h.owner,
	}))
	require.NoError(t, err)

	out := fetchOutput(t, result)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, string(quota.KindURLImports))
	assert.Zero(t, server.hits.Load())
}

func TestURLFetchRecordsScheduleStatistics(t *testing.T) {
	server := newCountingServer(t, statusHandler(http.StatusBadGateway))
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))
	ctx := context.Background()

	schedule, err := h.store.Schedules.Create(ctx, domain.ScheduledImport{
		Name:       "nightly",
		CatalogID:  h.catalog.ID,
		OwnerID:    h.owner,
		SourceURL:  server.URL,
		Enabled:    true,
		MaxRetries: 1,
	})
	require.NoError(t, err)

	result, err := h.pipeline.URLFetch(ctx, task(t, TaskURLFetch, URLFetchInput{ScheduledImportID: &schedule.ID}))
	require.NoError(t, err)
	assert.False(t, fetchOutput(t, result).Success)
	assert.EqualValues(t, 2, server.hits.Load())

	stored, err := h.store.Schedules.GetByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Stats.TotalRuns)
	assert.Equal(t, 1, stored.Stats.FailedRuns)
	assert.Equal(t, "failed", stored.Stats.LastStatus)
	assert.NotEmpty(t, stored.Stats.LastError)
	require.NotNil(t, stored.Stats.LastRunAt)
}

func TestURLFetchValidatesInput(t *testing.T) {
	h := newHarness(t, withFetcher(fetch.NewClient(fetch.Config{})))

	_, err := h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{CatalogID: h.catalog.ID}))
	require.Error(t, err)
	assert.Equal(t, "Source URL is required for url fetch job", err.Error())
	assert.True(t, IsPermanent(err))

	_, err = h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{SourceURL: "https://example.com/a.csv"}))
	require.Error(t, err)
	assert.Equal(t, "Catalog ID is required for url fetch job", err.Error())

	_, err = h.pipeline.URLFetch(context.Background(), task(t, TaskURLFetch, URLFetchInput{
		SourceURL: "https://example.com/a.csv",
		CatalogID: h.catalog.ID,
		Auth:      &domain.AuthConfig{Type: domain.AuthBearer},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid auth config")
}
