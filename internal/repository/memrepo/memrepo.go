// Package memrepo provides in-memory repositories for tests and single-process runs.
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/google/uuid"
)

// NewStore returns a Store backed entirely by memory.
func NewStore() *repository.Store {
	datasets := NewDatasets()
	return &repository.Store{
		Catalogs:       NewCatalogs(),
		Files:          NewFiles(),
		Jobs:           NewJobs(),
		Datasets:       datasets,
		SchemaVersions: NewSchemaVersions(datasets),
		Events:         NewEvents(),
		Schedules:      NewSchedules(),
		Logs:           NewLogs(),
	}
}

// Catalogs is an in-memory CatalogRepository.
type Catalogs struct {
	mu    sync.RWMutex
	items map[uuid.UUID]domain.Catalog
}

func NewCatalogs() *Catalogs {
	return &Catalogs{items: make(map[uuid.UUID]domain.Catalog)}
}

func (c *Catalogs) Create(_ context.Context, catalog domain.Catalog) (domain.Catalog, error) {
	if catalog.ID == uuid.Nil {
		catalog.ID = uuid.New()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[catalog.ID] = catalog
	return catalog, nil
}

func (c *Catalogs) GetByID(_ context.Context, id uuid.UUID) (domain.Catalog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	catalog, ok := c.items[id]
	if !ok {
		return domain.Catalog{}, repository.ErrNotFound
	}
	return catalog, nil
}

// Files is an in-memory ImportFileRepository enforcing (catalog, hash) uniqueness.
type Files struct {
	mu          sync.RWMutex
	items       map[uuid.UUID]domain.ImportFile
	byHash      map[string]uuid.UUID
	createCalls int
}

func NewFiles() *Files {
	return &Files{items: make(map[uuid.UUID]domain.ImportFile), byHash: make(map[string]uuid.UUID)}
}

func hashKey(catalogID uuid.UUID, hash string) string {
	return catalogID.String() + "/" + hash
}

func (f *Files) Create(_ context.Context, file domain.ImportFile) (domain.ImportFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	key := hashKey(file.CatalogID, file.ContentHash)
	if _, exists := f.byHash[key]; exists && !file.IsDuplicate {
		return domain.ImportFile{}, repository.ErrDuplicateFile
	}
	if file.Auth != nil {
		redacted := file.Auth.Redacted()
		file.Auth = &redacted
	}
	f.items[file.ID] = file
	if !file.IsDuplicate {
		f.byHash[key] = file.ID
	}
	return file, nil
}

func (f *Files) GetByID(_ context.Context, id uuid.UUID) (domain.ImportFile, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	file, ok := f.items[id]
	if !ok {
		return domain.ImportFile{}, repository.ErrNotFound
	}
	return file, nil
}

func (f *Files) FindByContentHash(_ context.Context, catalogID uuid.UUID, contentHash string) (domain.ImportFile, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byHash[hashKey(catalogID, contentHash)]
	if !ok {
		return domain.ImportFile{}, repository.ErrNotFound
	}
	return f.items[id], nil
}

// CreateCalls reports how many times Create was invoked.
func (f *Files) CreateCalls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.createCalls
}

// Len reports how many files are stored.
func (f *Files) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// Jobs is an in-memory ImportJobRepository. Update runs under the write lock.
type Jobs struct {
	mu        sync.Mutex
	items     map[uuid.UUID]domain.ImportJob
	rowHashes map[uuid.UUID]map[string]int
}

func NewJobs() *Jobs {
	return &Jobs{items: make(map[uuid.UUID]domain.ImportJob), rowHashes: make(map[uuid.UUID]map[string]int)}
}

func (j *Jobs) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	for _, existing := range j.items {
		if existing.ImportFileID == job.ImportFileID {
			return domain.ImportJob{}, fmt.Errorf("import job for file %s already exists", job.ImportFileID)
		}
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	j.items[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func (j *Jobs) GetByID(_ context.Context, id uuid.UUID) (domain.ImportJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.items[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	return cloneJob(job), nil
}

func (j *Jobs) FindByImportFile(_ context.Context, importFileID uuid.UUID) (domain.ImportJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, job := range j.items {
		if job.ImportFileID == importFileID {
			return cloneJob(job), nil
		}
	}
	return domain.ImportJob{}, repository.ErrNotFound
}

func (j *Jobs) Update(_ context.Context, id uuid.UUID, fn func(job *domain.ImportJob) error) (domain.ImportJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	current, ok := j.items[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	working := cloneJob(current)
	if err := fn(&working); err != nil {
		return domain.ImportJob{}, err
	}
	working.UpdatedAt = time.Now().UTC()
	j.items[id] = cloneJob(working)
	return working, nil
}

func (j *Jobs) ListStale(_ context.Context, olderThan time.Time) ([]domain.ImportJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var stale []domain.ImportJob
	for _, job := range j.items {
		if !job.IsTerminal() && job.UpdatedAt.Before(olderThan) {
			stale = append(stale, cloneJob(job))
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].UpdatedAt.Before(stale[b].UpdatedAt) })
	return stale, nil
}

func (j *Jobs) ClaimRowHashes(_ context.Context, jobID uuid.UUID, batchIndex int, hashes []string) (map[string]struct{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	owners, ok := j.rowHashes[jobID]
	if !ok {
		owners = make(map[string]int)
		j.rowHashes[jobID] = owners
	}
	claimed := make(map[string]struct{})
	for _, hash := range hashes {
		owner, seen := owners[hash]
		if !seen {
			owners[hash] = batchIndex
			continue
		}
		if owner != batchIndex {
			claimed[hash] = struct{}{}
		}
	}
	return claimed, nil
}

func (j *Jobs) ReleaseRowHashes(_ context.Context, jobID uuid.UUID) error {
	j.mu.Lock()
	delete(j.rowHashes, jobID)
	j.mu.Unlock()
	return nil
}

func cloneJob(job domain.ImportJob) domain.ImportJob {
	out := job
	out.Headers = append([]string(nil), job.Headers...)
	out.ProcessedBatches = append([]int(nil), job.ProcessedBatches...)
	out.Progress.Stages = make(map[domain.Stage]domain.StageProgress, len(job.Progress.Stages))
	for stage, sp := range job.Progress.Stages {
		out.Progress.Stages[stage] = sp
	}
	if job.SchemaSummary != nil {
		out.SchemaSummary = make(domain.SchemaSummary, len(job.SchemaSummary))
		for name, stats := range job.SchemaSummary {
			stats.SampleValues = append([]string(nil), stats.SampleValues...)
			out.SchemaSummary[name] = stats
		}
	}
	out.SchemaValidation.BreakingChanges = append([]domain.SchemaChange(nil), job.SchemaValidation.BreakingChanges...)
	out.SchemaValidation.NewFields = append([]string(nil), job.SchemaValidation.NewFields...)
	if job.DatasetID != nil {
		id := *job.DatasetID
		out.DatasetID = &id
	}
	if job.DatasetSchemaVersionID != nil {
		id := *job.DatasetSchemaVersionID
		out.DatasetSchemaVersionID = &id
	}
	if job.ErrorLog != nil {
		entry := *job.ErrorLog
		out.ErrorLog = &entry
	}
	return out
}

// Datasets is an in-memory DatasetRepository.
type Datasets struct {
	mu    sync.RWMutex
	items map[uuid.UUID]domain.Dataset
}

func NewDatasets() *Datasets {
	return &Datasets{items: make(map[uuid.UUID]domain.Dataset)}
}

// Put stores ds as-is.
func (d *Datasets) Put(ds domain.Dataset) domain.Dataset {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	d.items[ds.ID] = ds
	return ds
}

func (d *Datasets) GetByID(_ context.Context, id uuid.UUID) (domain.Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ds, ok := d.items[id]
	if !ok {
		return domain.Dataset{}, repository.ErrNotFound
	}
	return ds, nil
}

func (d *Datasets) FindOrCreate(_ context.Context, catalogID uuid.UUID, name string) (domain.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Dataset{}, fmt.Errorf("dataset name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ds := range d.items {
		if ds.CatalogID == catalogID && ds.Name == name {
			return ds, nil
		}
	}
	ds := domain.NewDataset(catalogID, name)
	d.items[ds.ID] = ds
	return ds, nil
}

// SchemaVersions is an in-memory append-only SchemaVersionRepository.
type SchemaVersions struct {
	mu       sync.Mutex
	datasets repository.DatasetRepository
	items    map[uuid.UUID][]domain.SchemaVersion
}

// NewSchemaVersions returns a repository that checks dataset existence via
// datasets when it is non-nil.
func NewSchemaVersions(datasets repository.DatasetRepository) *SchemaVersions {
	return &SchemaVersions{datasets: datasets, items: make(map[uuid.UUID][]domain.SchemaVersion)}
}

// BindDatasets sets the dataset repository used for existence checks.
func (s *SchemaVersions) BindDatasets(datasets repository.DatasetRepository) {
	s.mu.Lock()
	s.datasets = datasets
	s.mu.Unlock()
}

func (s *SchemaVersions) CreateNext(ctx context.Context, version domain.SchemaVersion) (domain.SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.datasets != nil {
		if _, err := s.datasets.GetByID(ctx, version.DatasetID); err != nil {
			return domain.SchemaVersion{}, err
		}
	}
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	existing := s.items[version.DatasetID]
	version.Version = len(existing) + 1
	s.items[version.DatasetID] = append(existing, version)
	return version, nil
}

func (s *SchemaVersions) GetByID(_ context.Context, id uuid.UUID) (domain.SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, versions := range s.items {
		for _, v := range versions {
			if v.ID == id {
				return v, nil
			}
		}
	}
	return domain.SchemaVersion{}, repository.ErrNotFound
}

func (s *SchemaVersions) Latest(_ context.Context, datasetID uuid.UUID) (domain.SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.items[datasetID]
	if len(versions) == 0 {
		return domain.SchemaVersion{}, repository.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (s *SchemaVersions) ListByDataset(_ context.Context, datasetID uuid.UUID) ([]domain.SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SchemaVersion(nil), s.items[datasetID]...), nil
}

// Events is an in-memory EventRepository.
type Events struct {
	mu    sync.RWMutex
	items []domain.Event
	keys  map[string]struct{}
}

func NewEvents() *Events {
	return &Events{keys: make(map[string]struct{})}
}

func (e *Events) CreateBatch(_ context.Context, events []domain.Event) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inserted := 0
	for _, event := range events {
		key := hashKey(event.DatasetID, event.ContentHash)
		if _, exists := e.keys[key]; exists {
			continue
		}
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		e.keys[key] = struct{}{}
		e.items = append(e.items, event)
		inserted++
	}
	return inserted, nil
}

func (e *Events) ExistingHashes(_ context.Context, datasetID uuid.UUID, hashes []string) (map[string]struct{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	existing := make(map[string]struct{})
	for _, hash := range hashes {
		if _, ok := e.keys[hashKey(datasetID, hash)]; ok {
			existing[hash] = struct{}{}
		}
	}
	return existing, nil
}

func (e *Events) CountByDataset(_ context.Context, datasetID uuid.UUID) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var count int64
	for _, event := range e.items {
		if event.DatasetID == datasetID {
			count++
		}
	}
	return count, nil
}

// All returns a copy of every stored event.
func (e *Events) All() []domain.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Event(nil), e.items...)
}

// Schedules is an in-memory ScheduledImportRepository.
type Schedules struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.ScheduledImport
}

func NewSchedules() *Schedules {
	return &Schedules{items: make(map[uuid.UUID]domain.ScheduledImport)}
}

func (s *Schedules) Create(_ context.Context, schedule domain.ScheduledImport) (domain.ScheduledImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	s.items[schedule.ID] = schedule
	return schedule, nil
}

func (s *Schedules) GetByID(_ context.Context, id uuid.UUID) (domain.ScheduledImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.items[id]
	if !ok {
		return domain.ScheduledImport{}, repository.ErrNotFound
	}
	return schedule, nil
}

func (s *Schedules) ListDue(_ context.Context, now time.Time) ([]domain.ScheduledImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduledImport
	for _, schedule := range s.items {
		if schedule.Enabled && (schedule.NextRunAt == nil || !schedule.NextRunAt.After(now)) {
			due = append(due, schedule)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].Name < due[b].Name })
	return due, nil
}

func (s *Schedules) Update(_ context.Context, id uuid.UUID, fn func(schedule *domain.ScheduledImport) error) (domain.ScheduledImport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.items[id]
	if !ok {
		return domain.ScheduledImport{}, repository.ErrNotFound
	}
	if err := fn(&schedule); err != nil {
		return domain.ScheduledImport{}, err
	}
	s.items[id] = schedule
	return schedule, nil
}

// Logs is an in-memory ImportLogRepository.
type Logs struct {
	mu      sync.RWMutex
	entries []domain.ImportLogEntry
}

func NewLogs() *Logs {
	return &Logs{}
}

func (l *Logs) Record(_ context.Context, entry domain.ImportLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *Logs) List(_ context.Context, importJobID uuid.UUID, limit int, offset int) ([]domain.ImportLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	var matched []domain.ImportLogEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ImportJobID == importJobID {
			matched = append(matched, l.entries[i])
		}
	}
	if offset >= len(matched) {
		return []domain.ImportLogEntry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
