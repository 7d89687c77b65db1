package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/geocode"
	"github.com/rpattn/eventingest/internal/logging"
	"github.com/rpattn/eventingest/internal/queue"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"
	"github.com/rpattn/eventingest/internal/repository/memrepo"
	"github.com/rpattn/eventingest/internal/stagelock"
	"github.com/rpattn/eventingest/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *repository.Store
	queue    *queue.Memory
	blobs    *storage.Memory
	locks    *stagelock.Memory
	geocoder *fakeGeocoder
	pipeline *Pipeline
	registry *Registry
	catalog  domain.Catalog
	owner    uuid.UUID
}

type harnessOption func(*Deps)

func withFetcher(f Fetcher) harnessOption {
	return func(d *Deps) { d.Fetcher = f }
}

func withQuota(q quota.Service) harnessOption {
	return func(d *Deps) { d.Quota = q }
}

func withBatchSize(n int) harnessOption {
	return func(d *Deps) { d.Options.BatchSize = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memrepo.NewStore()
	catalog, err := store.Catalogs.Create(context.Background(), domain.NewCatalog("City events", ""))
	require.NoError(t, err)

	h := &harness{
		store:    store,
		queue:    queue.NewMemory(),
		blobs:    storage.NewMemory(),
		locks:    stagelock.NewMemory(),
		geocoder: newFakeGeocoder(map[string]domain.Point{"Paris": {Lat: 48.8566, Lng: 2.3522}}),
		catalog:  catalog,
		owner:    uuid.New(),
	}

	deps := Deps{
		Store:    store,
		Blobs:    h.blobs,
		Queue:    h.queue,
		Locks:    h.locks,
		Geocoder: h.geocoder,
		Logger:   logging.Discard(),
		Options:  Options{BatchSize: 2, RetryDelayUnit: time.Millisecond},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.pipeline = NewPipeline(deps)
	h.registry = NewRegistry(logging.Discard())
	h.pipeline.Register(h.registry)
	return h
}

// upload stores a payload the way the HTTP upload path does and queues dataset detection.
func (h *harness) upload(t *testing.T, name string, payload string, datasetID *uuid.UUID) domain.ImportFile {
	t.Helper()
	ctx := context.Background()

	file := domain.ImportFile{
		ID:           uuid.New(),
		CatalogID:    h.catalog.ID,
		OwnerID:      h.owner,
		DatasetID:    datasetID,
		OriginalName: name,
		ContentHash:  uuid.NewString(),
		MimeType:     "text/csv",
		Size:         int64(len(payload)),
		Source:       domain.SourceUpload,
		CreatedAt:    time.Now().UTC(),
	}
	file.StorageKey = RawStorageKey(file.CatalogID, file.ID, name)
	require.NoError(t, h.blobs.Put(ctx, file.StorageKey, []byte(payload), file.MimeType))

	created, err := h.store.Files.Create(ctx, file)
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(ctx, TaskDatasetDetection, DatasetDetectionInput{ImportFileID: created.ID}))
	return created
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	_, err := h.queue.Drain(context.Background(), h.registry.HandleMessage)
	require.NoError(t, err)
}

func (h *harness) jobForFile(t *testing.T, fileID uuid.UUID) domain.ImportJob {
	t.Helper()
	job, err := h.store.Jobs.FindByImportFile(context.Background(), fileID)
	require.NoError(t, err)
	return job
}

func task(t *testing.T, taskType string, input any) Task {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return Task{ID: uuid.NewString(), Type: taskType, Input: raw}
}

type fakeGeocoder struct {
	mu     sync.Mutex
	points map[string]domain.Point
	calls  []string
}

func newFakeGeocoder(points map[string]domain.Point) *fakeGeocoder {
	return &fakeGeocoder{points: points}
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (geocode.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	point, ok := f.points[address]
	if !ok {
		return geocode.Result{}, geocode.ErrNoResult
	}
	return geocode.Result{Point: point, Source: geocode.SourceProvider, DisplayName: address}, nil
}

func (f *fakeGeocoder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
