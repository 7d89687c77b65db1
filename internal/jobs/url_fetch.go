package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/metrics"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// URLFetchInput starts a remote import. When ScheduledImportID is set the
// source, auth and retry policy come from the schedule.
type URLFetchInput struct {
	ScheduledImportID     *uuid.UUID         `json:"scheduledImportId,omitempty"`
	SourceURL             string             `json:"sourceUrl,omitempty" validate:"omitempty,url"`
	CatalogID             uuid.UUID          `json:"catalogId"`
	OwnerID               uuid.UUID          `json:"ownerId"`
	DatasetID             *uuid.UUID         `json:"datasetId,omitempty"`
	OriginalName          string             `json:"originalName,omitempty"`
	MimeType              string             `json:"mimeType,omitempty"`
	Auth                  *domain.AuthConfig `json:"authConfig,omitempty"`
	SkipDuplicateChecking bool               `json:"skipDuplicateChecking,omitempty"`
	MaxRetries            *int               `json:"maxRetries,omitempty" validate:"omitempty,gte=0"`
	RetryDelayMinutes     *int               `json:"retryDelayMinutes,omitempty" validate:"omitempty,gte=0"`
}

// URLFetchOutput is returned for every fetch, successful or not.
type URLFetchOutput struct {
	Success      bool      `json:"success"`
	ImportFileID uuid.UUID `json:"importFileId,omitempty"`
	IsDuplicate  bool      `json:"isDuplicate"`
	Filename     string    `json:"filename,omitempty"`
	ContentHash  string    `json:"contentHash,omitempty"`
	Size         int64     `json:"size,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Error        string    `json:"error,omitempty"`
	Attempts     int       `json:"attempts"`
}

type fetchRequest struct {
	url        string
	catalogID  uuid.UUID
	ownerID    uuid.UUID
	datasetID  *uuid.UUID
	name       string
	mimeType   string
	auth       *domain.AuthConfig
	skipDedupe bool
	maxRetries int
	retryDelay time.Duration
	schedule   *domain.ScheduledImport
}

// URLFetch downloads a remote file, deduplicates it by content hash and
// hands new files to dataset detection. It manages its own retries: failures
// come back as a URLFetchOutput with Success unset rather than an error.
func (p *Pipeline) URLFetch(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	if p.deps.Fetcher == nil {
		return Result{}, Permanent(errors.New("fetcher is required for url fetch job"))
	}

	var in URLFetchInput
	if err := decodeInput(task, &in, ""); err != nil {
		return Result{}, err
	}
	req, err := p.resolveFetchRequest(ctx, in)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	out := p.runFetch(ctx, req)
	if req.schedule != nil {
		p.recordScheduleRun(ctx, req.schedule.ID, out, time.Since(started))
	}
	return Result{Output: out}, nil
}

func (p *Pipeline) resolveFetchRequest(ctx context.Context, in URLFetchInput) (fetchRequest, error) {
	req := fetchRequest{
		url:        strings.TrimSpace(in.SourceURL),
		catalogID:  in.CatalogID,
		ownerID:    in.OwnerID,
		datasetID:  in.DatasetID,
		name:       in.OriginalName,
		mimeType:   in.MimeType,
		auth:       in.Auth,
		skipDedupe: in.SkipDuplicateChecking,
		maxRetries: p.opts.DefaultMaxRetries,
	}

	if in.ScheduledImportID != nil {
		schedule, err := p.store.Schedules.GetByID(ctx, *in.ScheduledImportID)
		if err != nil {
			return fetchRequest{}, Permanent(fmt.Errorf("load scheduled import %s: %w", *in.ScheduledImportID, err))
		}
		req.schedule = &schedule
		req.url = schedule.SourceURL
		req.catalogID = schedule.CatalogID
		req.ownerID = schedule.OwnerID
		if schedule.DatasetID != nil {
			req.datasetID = schedule.DatasetID
		}
		auth := schedule.Auth
		req.auth = &auth
		req.maxRetries = schedule.MaxRetries
		req.retryDelay = time.Duration(schedule.RetryDelayMinutes) * p.opts.RetryDelayUnit
	}

	if in.MaxRetries != nil {
		req.maxRetries = *in.MaxRetries
	}
	if in.RetryDelayMinutes != nil {
		req.retryDelay = time.Duration(*in.RetryDelayMinutes) * p.opts.RetryDelayUnit
	}

	if req.url == "" {
		return fetchRequest{}, Permanent(errors.New("Source URL is required for url fetch job"))
	}
	if req.catalogID == uuid.Nil {
		return fetchRequest{}, Permanent(errors.New("Catalog ID is required for url fetch job"))
	}
	if req.auth != nil {
		if err := validate.Struct(req.auth); err != nil {
			return fetchRequest{}, Permanent(fmt.Errorf("invalid auth config: %w", err))
		}
	}
	return req, nil
}

func (p *Pipeline) runFetch(ctx context.Context, req fetchRequest) URLFetchOutput {
	logger := p.logger.WithFields(logrus.Fields{
		"task":       TaskURLFetch,
		"catalog_id": req.catalogID,
		"source_url": req.url,
	})

	if err := p.checkQuota(ctx, req.ownerID); err != nil {
		logger.WithError(err).Warn("url import rejected by quota")
		return URLFetchOutput{Error: err.Error()}
	}

	var (
		attempts int
		fetched  fetch.Result
	)
	operation := func() error {
		attempts++
		res, err := p.deps.Fetcher.Fetch(ctx, req.url, req.auth)
		if err != nil {
			metrics.ObserveFetch("error", 0)
			if fetch.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		metrics.ObserveFetch("success", res.Size)
		fetched = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempts,
			"retry_in": wait,
		}).Warn("fetch attempt failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(retryPolicy(req.retryDelay), uint64(max(req.maxRetries, 0))), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		logger.WithError(err).WithField("attempt", attempts).Error("url fetch failed")
		return URLFetchOutput{Error: err.Error(), Attempts: attempts}
	}

	out, err := p.storeFetched(ctx, req, fetched)
	out.Attempts = attempts
	if err != nil {
		logger.WithError(err).Error("failed to persist fetched file")
		return URLFetchOutput{Error: err.Error(), Attempts: attempts}
	}

	logger.WithFields(logrus.Fields{
		"import_file_id": out.ImportFileID,
		"duplicate":      out.IsDuplicate,
		"size":           out.Size,
	}).Info("url fetch completed")
	return out
}

func retryPolicy(delay time.Duration) backoff.BackOff {
	if delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = delay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = delay * 16
	exp.MaxElapsedTime = 0
	return exp
}

func (p *Pipeline) checkQuota(ctx context.Context, ownerID uuid.UUID) error {
	for _, kind := range []quota.Kind{quota.KindURLImports, quota.KindFileBytes} {
		status, err := p.deps.Quota.CheckQuota(ctx, kind, ownerID)
		if err != nil {
			return fmt.Errorf("check quota: %w", err)
		}
		if !status.Allowed {
			return quota.Exceeded(kind, status)
		}
	}
	return nil
}

func (p *Pipeline) storeFetched(ctx context.Context, req fetchRequest, fetched fetch.Result) (URLFetchOutput, error) {
	name := req.name
	if name == "" {
		name = fetched.Filename
	}
	mimeType := req.mimeType
	if mimeType == "" {
		mimeType = fetched.ContentType
	}
	out := URLFetchOutput{
		Success:     true,
		Filename:    name,
		ContentHash: fetched.ContentHash,
		Size:        fetched.Size,
		MimeType:    mimeType,
	}

	if !req.skipDedupe {
		existing, err := p.store.Files.FindByContentHash(ctx, req.catalogID, fetched.ContentHash)
		switch {
		case err == nil:
			out.ImportFileID = existing.ID
			out.IsDuplicate = true
			return out, nil
		case !errors.Is(err, repository.ErrNotFound):
			return out, fmt.Errorf("check duplicate file: %w", err)
		}
	}

	file := domain.ImportFile{
		ID:           uuid.New(),
		CatalogID:    req.catalogID,
		OwnerID:      req.ownerID,
		DatasetID:    req.datasetID,
		OriginalName: name,
		ContentHash:  fetched.ContentHash,
		MimeType:     mimeType,
		Size:         fetched.Size,
		Source:       domain.SourceURL,
		SourceURL:    req.url,
		CreatedAt:    p.now().UTC(),
	}
	if req.auth != nil {
		redacted := req.auth.Redacted()
		file.Auth = &redacted
	}
	file.StorageKey = RawStorageKey(file.CatalogID, file.ID, name)

	if err := p.deps.Blobs.Put(ctx, file.StorageKey, fetched.Body, mimeType); err != nil {
		return out, fmt.Errorf("store raw file: %w", err)
	}

	created, err := p.store.Files.Create(ctx, file)
	if errors.Is(err, repository.ErrDuplicateFile) && req.skipDedupe {
		file.IsDuplicate = true
		created, err = p.store.Files.Create(ctx, file)
	}
	if errors.Is(err, repository.ErrDuplicateFile) {
		// Lost a race with an identical submission: report the winner.
		p.deleteBlob(ctx, file.StorageKey)
		existing, findErr := p.store.Files.FindByContentHash(ctx, req.catalogID, fetched.ContentHash)
		if findErr != nil {
			return out, fmt.Errorf("resolve duplicate file: %w", findErr)
		}
		out.ImportFileID = existing.ID
		out.IsDuplicate = true
		return out, nil
	}
	if err != nil {
		p.deleteBlob(ctx, file.StorageKey)
		return out, fmt.Errorf("create import file: %w", err)
	}

	out.ImportFileID = created.ID
	out.IsDuplicate = created.IsDuplicate

	if err := p.deps.Quota.IncrementUsage(ctx, quota.KindURLImports, req.ownerID, 1); err != nil {
		p.logger.WithError(err).Warn("failed to record url import usage")
	}
	if err := p.deps.Quota.IncrementUsage(ctx, quota.KindFileBytes, req.ownerID, created.Size); err != nil {
		p.logger.WithError(err).Warn("failed to record file byte usage")
	}

	if err := p.enqueue(ctx, TaskDatasetDetection, DatasetDetectionInput{ImportFileID: created.ID}); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pipeline) recordScheduleRun(ctx context.Context, scheduleID uuid.UUID, out URLFetchOutput, elapsed time.Duration) {
	_, err := p.store.Schedules.Update(context.WithoutCancel(ctx), scheduleID, func(schedule *domain.ScheduledImport) error {
		schedule.RecordRun(out.Success, elapsed, out.Error, p.now())
		return nil
	})
	if err != nil {
		p.logger.WithError(err).WithField("scheduled_import_id", scheduleID).Warn("failed to update schedule statistics")
	}
}

func (p *Pipeline) deleteBlob(ctx context.Context, key string) {
	if err := p.deps.Blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		p.logger.WithError(err).WithField("key", key).Warn("failed to delete blob")
	}
}

// RawStorageKey returns the blob key of an uploaded or fetched payload.
func RawStorageKey(catalogID, fileID uuid.UUID, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "payload"
	}
	return fmt.Sprintf("raw/%s/%s/%s", catalogID, fileID, base)
}
