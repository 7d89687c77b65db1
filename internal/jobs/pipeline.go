package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/geocode"
	"github.com/rpattn/eventingest/internal/progress"
	"github.com/rpattn/eventingest/internal/queue"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"
	"github.com/rpattn/eventingest/internal/schemaversion"
	"github.com/rpattn/eventingest/internal/stagelock"
	"github.com/rpattn/eventingest/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Failure context tags persisted on errorLog.
const (
	contextURLFetch            = "url fetch"
	contextDatasetDetection    = "dataset detection"
	contextFileParsing         = "file parsing"
	contextBatchProcessing     = "batch processing"
	contextSchemaValidation    = "schema validation"
	contextSchemaVersion       = "schema version creation"
	contextGeocoding           = "geocoding"
	contextEventCreation       = "event creation"
	contextStaleJobMaintenance = "maintenance"
)

// Fetcher downloads remote payloads.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, auth *domain.AuthConfig) (fetch.Result, error)
}

// Options tunes the pipeline.
type Options struct {
	// BatchSize is the number of rows per queued batch.
	BatchSize int
	// RetryDelayUnit scales a schedule's retryDelayMinutes. Tests shrink it.
	RetryDelayUnit time.Duration
	// DefaultMaxRetries applies to URL fetches that are not tied to a schedule.
	DefaultMaxRetries int
	// GeocodeConcurrency bounds concurrent geocoder calls within one batch.
	GeocodeConcurrency int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.RetryDelayUnit <= 0 {
		o.RetryDelayUnit = time.Minute
	}
	if o.DefaultMaxRetries < 0 {
		o.DefaultMaxRetries = 0
	}
	if o.GeocodeConcurrency <= 0 {
		o.GeocodeConcurrency = 4
	}
	return o
}

// Deps are the collaborators handlers use. Store is required for every
// handler except cleanup; Progress and SchemaVersions are derived from Store
// when nil.
type Deps struct {
	Store          *repository.Store
	Blobs          storage.BlobStore
	Queue          queue.Dispatcher
	Locks          stagelock.Locker
	Progress       *progress.Tracker
	SchemaVersions *schemaversion.Service
	Quota          quota.Service
	Geocoder       geocode.Geocoder
	Fetcher        Fetcher
	Logger         logrus.FieldLogger
	Now            func() time.Time
	Options        Options
}

// Pipeline owns every handler.
type Pipeline struct {
	deps   Deps
	store  *repository.Store
	opts   Options
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewPipeline fills defaults and returns the handler set.
func NewPipeline(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locks == nil {
		deps.Locks = stagelock.NewMemory()
	}
	if deps.Quota == nil {
		deps.Quota = quota.Unlimited{}
	}
	if deps.Blobs == nil {
		deps.Blobs = storage.NewMemory()
	}
	if deps.Store != nil && deps.Store.Validate() == nil {
		if deps.Progress == nil {
			deps.Progress = progress.NewTracker(deps.Store.Jobs).WithClock(deps.Now)
		}
		if deps.SchemaVersions == nil {
			deps.SchemaVersions = schemaversion.NewService(deps.Store.Datasets, deps.Store.SchemaVersions, deps.Store.Events, deps.Logger)
		}
	}
	return &Pipeline{
		deps:   deps,
		store:  deps.Store,
		opts:   deps.Options.withDefaults(),
		logger: deps.Logger,
		now:    deps.Now,
	}
}

// Register binds every handler into r.
func (p *Pipeline) Register(r *Registry) {
	r.Register(TaskURLFetch, HandlerFunc(p.URLFetch))
	r.Register(TaskDatasetDetection, HandlerFunc(p.DatasetDetection))
	r.Register(TaskFileParsing, HandlerFunc(p.FileParsing))
	r.Register(TaskProcessBatch, HandlerFunc(p.ProcessBatch))
	r.Register(TaskValidateSchema, HandlerFunc(p.ValidateSchema))
	r.Register(TaskCreateSchemaVersion, HandlerFunc(p.CreateSchemaVersion))
	r.Register(TaskGeocodeBatch, HandlerFunc(p.GeocodeBatch))
	r.Register(TaskCreateEvents, HandlerFunc(p.CreateEvents))
	r.Register(TaskCleanupStuckLocks, HandlerFunc(p.Cleanup))
}

// requireStore is the context check every store-backed handler runs first.
func (p *Pipeline) requireStore() error {
	if p.store == nil {
		return ErrMissingStore
	}
	if err := p.store.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingStore, err)
	}
	if p.deps.Queue == nil {
		return Permanent(errors.New("task dispatcher is required"))
	}
	return nil
}

// JobInput is the payload of every job-scoped stage.
type JobInput struct {
	ImportJobID uuid.UUID `json:"importJobId" validate:"required"`
}

// withStageLock serializes stage transitions on one job.
func (p *Pipeline) withStageLock(ctx context.Context, jobID uuid.UUID, fn func() (Result, error)) (Result, error) {
	ok, err := p.deps.Locks.TryAcquire(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("acquire stage lock: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w for job %s", ErrTransitionInProgress, jobID)
	}
	defer func() {
		if err := p.deps.Locks.Release(context.WithoutCancel(ctx), jobID); err != nil {
			p.logger.WithError(err).WithField("import_job_id", jobID).Warn("failed to release stage lock")
		}
	}()
	return fn()
}

// fail persists the failure on the job and returns cause for the dispatcher.
// Lock contention and cancellation are returned without touching the job.
func (p *Pipeline) fail(ctx context.Context, jobID uuid.UUID, failureContext string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrTransitionInProgress) || errors.Is(cause, context.Canceled) || errors.Is(cause, ErrMissingStore) {
		return cause
	}

	entry := p.logger.WithError(cause).WithFields(logrus.Fields{
		"import_job_id": jobID,
		"context":       failureContext,
	})
	entry.Error("import job failed")

	if jobID == uuid.Nil {
		return cause
	}
	_, err := p.store.Jobs.Update(context.WithoutCancel(ctx), jobID, func(job *domain.ImportJob) error {
		if job.IsTerminal() {
			return nil
		}
		job.Fail(cause, failureContext, p.now())
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		entry.WithField("persist_error", err.Error()).Error("failed to persist job failure")
	}
	return cause
}

func (p *Pipeline) enqueue(ctx context.Context, taskType string, input any) error {
	if err := p.deps.Queue.Enqueue(ctx, taskType, input); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

func (p *Pipeline) loadBatch(ctx context.Context, jobID uuid.UUID, index int) (domain.Batch, error) {
	data, err := p.deps.Blobs.Get(ctx, domain.BatchStorageKey(jobID, index))
	if err != nil {
		return domain.Batch{}, fmt.Errorf("load batch %d: %w", index, err)
	}
	var batch domain.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return domain.Batch{}, fmt.Errorf("decode batch %d: %w", index, err)
	}
	return batch, nil
}

func (p *Pipeline) saveBatch(ctx context.Context, batch domain.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %d: %w", batch.Index, err)
	}
	if err := p.deps.Blobs.Put(ctx, batch.StorageKey(), data, "application/json"); err != nil {
		return fmt.Errorf("store batch %d: %w", batch.Index, err)
	}
	return nil
}

func (p *Pipeline) recordIssue(ctx context.Context, jobID uuid.UUID, stage domain.Stage, row *int, message string) {
	entry := domain.NewJobIssue(jobID, stage, message)
	if row != nil {
		entry = domain.NewRowIssue(jobID, stage, *row, message)
	}
	if err := p.store.Logs.Record(ctx, entry); err != nil {
		p.logger.WithError(err).WithField("import_job_id", jobID).Warn("failed to record import log entry")
	}
}

func (p *Pipeline) jobLogger(jobID uuid.UUID, stage domain.Stage) logrus.FieldLogger {
	return p.logger.WithFields(logrus.Fields{
		"import_job_id": jobID,
		"stage":         stage,
	})
}
