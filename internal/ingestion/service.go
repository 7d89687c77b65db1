// Package ingestion is the HTTP-facing entry point of the import pipeline:
// uploads, URL imports, status polling, schema approval and schedules.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/eventingest/internal/auth"
	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/jobs"
	"github.com/rpattn/eventingest/internal/queue"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"
	"github.com/rpattn/eventingest/internal/scheduler"
	"github.com/rpattn/eventingest/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidRequest marks client mistakes.
var ErrInvalidRequest = errors.New("invalid request")

// Approver records schema approvals.
type Approver interface {
	ApproveSchema(ctx context.Context, jobID, approverID uuid.UUID) (domain.ImportJob, error)
}

// Service validates requests and hands work to the task queue.
type Service struct {
	store    *repository.Store
	blobs    storage.BlobStore
	queue    queue.Dispatcher
	approver Approver
	quota    quota.Service
	maxBytes int64
	logger   logrus.FieldLogger
	now      func() time.Time
	validate *validator.Validate
}

// Config collects the service collaborators. Quota defaults to unlimited and
// MaxBytes to fetch.DefaultMaxBytes.
type Config struct {
	Store    *repository.Store
	Blobs    storage.BlobStore
	Queue    queue.Dispatcher
	Approver Approver
	Quota    quota.Service
	MaxBytes int64
	Logger   logrus.FieldLogger
}

// NewService creates a new ingestion service.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if cfg.Blobs == nil || cfg.Queue == nil || cfg.Approver == nil {
		return nil, errors.New("ingestion requires blob storage, a task queue and an approver")
	}
	if cfg.Quota == nil {
		cfg.Quota = quota.Unlimited{}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = fetch.DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Service{
		store:    cfg.Store,
		blobs:    cfg.Blobs,
		queue:    cfg.Queue,
		approver: cfg.Approver,
		quota:    cfg.Quota,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
		now:      time.Now,
		validate: validator.New(),
	}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// UploadRequest describes one uploaded file.
type UploadRequest struct {
	CatalogID             uuid.UUID
	OwnerID               uuid.UUID
	DatasetID             *uuid.UUID
	DatasetName           string
	FileName              string
	MimeType              string
	SkipDuplicateChecking bool
	Data                  io.Reader
}

// UploadResult identifies the stored file.
type UploadResult struct {
	ImportFileID uuid.UUID `json:"importFileId"`
	IsDuplicate  bool      `json:"isDuplicate"`
	ContentHash  string    `json:"contentHash"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
}

// Upload stores the payload, records the import file and enqueues dataset
// detection. A file whose content already exists in the catalog is not
// stored again unless SkipDuplicateChecking is set.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if err := auth.EnforceCatalogScope(ctx, req.CatalogID); err != nil {
		return UploadResult{}, invalid("%v", err)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return UploadResult{}, invalid("file name is required")
	}
	if req.Data == nil {
		return UploadResult{}, invalid("file is required")
	}
	if _, err := s.store.Catalogs.GetByID(ctx, req.CatalogID); err != nil {
		return UploadResult{}, fmt.Errorf("load catalog %s: %w", req.CatalogID, err)
	}

	status, err := s.quota.CheckQuota(ctx, quota.KindFileBytes, req.OwnerID)
	if err != nil {
		return UploadResult{}, fmt.Errorf("check quota: %w", err)
	}
	if !status.Allowed {
		return UploadResult{}, quota.Exceeded(quota.KindFileBytes, status)
	}

	body, err := io.ReadAll(io.LimitReader(req.Data, s.maxBytes+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return UploadResult{}, fmt.Errorf("%w: upload exceeds limit of %d bytes", fetch.ErrTooLarge, s.maxBytes)
	}
	if len(body) == 0 {
		return UploadResult{}, invalid("file is empty")
	}

	hash := fetch.Hash(body)
	result := UploadResult{
		ContentHash: hash,
		Size:        int64(len(body)),
		MimeType:    fetch.DetectContentType(req.MimeType, body),
	}

	if !req.SkipDuplicateChecking {
		existing, err := s.store.Files.FindByContentHash(ctx, req.CatalogID, hash)
		switch {
		case err == nil:
			result.ImportFileID = existing.ID
			result.IsDuplicate = true
			return result, nil
		case !errors.Is(err, repository.ErrNotFound):
			return UploadResult{}, fmt.Errorf("check duplicate file: %w", err)
		}
	}

	file := domain.ImportFile{
		ID:           uuid.New(),
		CatalogID:    req.CatalogID,
		OwnerID:      req.OwnerID,
		DatasetID:    req.DatasetID,
		OriginalName: req.FileName,
		ContentHash:  hash,
		MimeType:     result.MimeType,
		Size:         result.Size,
		Source:       domain.SourceUpload,
		CreatedAt:    s.now().UTC(),
	}
	file.StorageKey = jobs.RawStorageKey(file.CatalogID, file.ID, file.OriginalName)

	if err := s.blobs.Put(ctx, file.StorageKey, body, file.MimeType); err != nil {
		return UploadResult{}, fmt.Errorf("store upload: %w", err)
	}
	created, err := s.store.Files.Create(ctx, file)
	if errors.Is(err, repository.ErrDuplicateFile) && req.SkipDuplicateChecking {
		file.IsDuplicate = true
		created, err = s.store.Files.Create(ctx, file)
	}
	if err != nil {
		_ = s.blobs.Delete(context.WithoutCancel(ctx), file.StorageKey)
		if errors.Is(err, repository.ErrDuplicateFile) {
			existing, findErr := s.store.Files.FindByContentHash(ctx, req.CatalogID, hash)
			if findErr != nil {
				return UploadResult{}, fmt.Errorf("resolve duplicate file: %w", findErr)
			}
			result.ImportFileID = existing.ID
			result.IsDuplicate = true
			return result, nil
		}
		return UploadResult{}, fmt.Errorf("create import file: %w", err)
	}

	if err := s.quota.IncrementUsage(ctx, quota.KindFileBytes, req.OwnerID, created.Size); err != nil {
		s.logger.WithError(err).Warn("failed to record file byte usage")
	}

	input := jobs.DatasetDetectionInput{ImportFileID: created.ID, DatasetID: req.DatasetID, DatasetName: req.DatasetName}
	if err := s.queue.Enqueue(ctx, jobs.TaskDatasetDetection, input); err != nil {
		return UploadResult{}, fmt.Errorf("enqueue dataset detection: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"import_file_id": created.ID,
		"catalog_id":     created.CatalogID,
		"size":           created.Size,
	}).Info("upload accepted")

	result.ImportFileID = created.ID
	result.IsDuplicate = created.IsDuplicate
	return result, nil
}

// ImportURL validates a remote import request and enqueues the fetch.
func (s *Service) ImportURL(ctx context.Context, in jobs.URLFetchInput) error {
	if in.ScheduledImportID != nil {
		return invalid("scheduled imports are started by the scheduler")
	}
	if err := auth.EnforceCatalogScope(ctx, in.CatalogID); err != nil {
		return invalid("%v", err)
	}
	if strings.TrimSpace(in.SourceURL) == "" {
		return invalid("sourceUrl is required")
	}
	if err := s.validate.Struct(in); err != nil {
		return invalid("%v", err)
	}
	if in.Auth != nil {
		if err := s.validate.Struct(in.Auth); err != nil {
			return invalid("authConfig: %v", err)
		}
	}
	if _, err := s.store.Catalogs.GetByID(ctx, in.CatalogID); err != nil {
		return fmt.Errorf("load catalog %s: %w", in.CatalogID, err)
	}
	if err := s.queue.Enqueue(ctx, jobs.TaskURLFetch, in); err != nil {
		return fmt.Errorf("enqueue url fetch: %w", err)
	}
	return nil
}

// JobStatus is what clients poll.
type JobStatus struct {
	Job    domain.ImportJob        `json:"job"`
	Issues []domain.ImportLogEntry `json:"issues"`
}

// Status returns the job and its most recent issues.
func (s *Service) Status(ctx context.Context, jobID uuid.UUID, issueLimit int) (JobStatus, error) {
	job, err := s.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	return s.status(ctx, job, issueLimit)
}

// StatusForFile resolves the job created for an import file.
func (s *Service) StatusForFile(ctx context.Context, fileID uuid.UUID, issueLimit int) (JobStatus, error) {
	job, err := s.store.Jobs.FindByImportFile(ctx, fileID)
	if err != nil {
		return JobStatus{}, err
	}
	return s.status(ctx, job, issueLimit)
}

func (s *Service) status(ctx context.Context, job domain.ImportJob, issueLimit int) (JobStatus, error) {
	if err := auth.EnforceCatalogScope(ctx, job.CatalogID); err != nil {
		return JobStatus{}, repository.ErrNotFound
	}
	issues, err := s.store.Logs.List(ctx, job.ID, issueLimit, 0)
	if err != nil {
		return JobStatus{}, fmt.Errorf("list import issues: %w", err)
	}
	if issues == nil {
		issues = []domain.ImportLogEntry{}
	}
	return JobStatus{Job: job, Issues: issues}, nil
}

// Approve records the acting user's approval of a parked schema change.
func (s *Service) Approve(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error) {
	approverID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return domain.ImportJob{}, invalid("approving user is required")
	}
	job, err := s.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if err := auth.EnforceCatalogScope(ctx, job.CatalogID); err != nil {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	return s.approver.ApproveSchema(ctx, jobID, approverID)
}

// ScheduleRequest creates a recurring URL import.
type ScheduleRequest struct {
	Name              string             `json:"name" validate:"required"`
	CatalogID         uuid.UUID          `json:"catalogId"`
	DatasetID         *uuid.UUID         `json:"datasetId,omitempty"`
	SourceURL         string             `json:"sourceUrl" validate:"required,url"`
	Auth              *domain.AuthConfig `json:"authConfig,omitempty"`
	CronExpression    string             `json:"cronExpression" validate:"required"`
	MaxRetries        int                `json:"maxRetries" validate:"gte=0,lte=10"`
	RetryDelayMinutes int                `json:"retryDelayMinutes" validate:"gte=0"`
}

// CreateSchedule stores an enabled schedule due at its first cron activation.
func (s *Service) CreateSchedule(ctx context.Context, req ScheduleRequest) (domain.ScheduledImport, error) {
	if err := auth.EnforceCatalogScope(ctx, req.CatalogID); err != nil {
		return domain.ScheduledImport{}, invalid("%v", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.ScheduledImport{}, invalid("%v", err)
	}
	next, err := scheduler.NextRun(req.CronExpression, s.now())
	if err != nil {
		return domain.ScheduledImport{}, invalid("%v", err)
	}
	if _, err := s.store.Catalogs.GetByID(ctx, req.CatalogID); err != nil {
		return domain.ScheduledImport{}, fmt.Errorf("load catalog %s: %w", req.CatalogID, err)
	}

	schedule := domain.ScheduledImport{
		ID:                uuid.New(),
		Name:              strings.TrimSpace(req.Name),
		CatalogID:         req.CatalogID,
		DatasetID:         req.DatasetID,
		SourceURL:         req.SourceURL,
		CronExpression:    req.CronExpression,
		Enabled:           true,
		MaxRetries:        req.MaxRetries,
		RetryDelayMinutes: req.RetryDelayMinutes,
		NextRunAt:         &next,
	}
	if owner, ok := auth.UserIDFromContext(ctx); ok {
		schedule.OwnerID = owner
	}
	if req.Auth != nil {
		if err := s.validate.Struct(req.Auth); err != nil {
			return domain.ScheduledImport{}, invalid("authConfig: %v", err)
		}
		schedule.Auth = *req.Auth
	}
	return s.store.Schedules.Create(ctx, schedule)
}
