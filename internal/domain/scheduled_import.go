package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStats accumulates execution statistics for a scheduled import.
type ScheduleStats struct {
	TotalRuns         int        `json:"totalRuns"`
	SuccessfulRuns    int        `json:"successfulRuns"`
	FailedRuns        int        `json:"failedRuns"`
	AverageDurationMs float64    `json:"averageDurationMs"`
	LastRunAt         *time.Time `json:"lastRunAt,omitempty"`
	LastStatus        string     `json:"lastStatus,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

// ScheduledImport is a recurring remote source.
type ScheduledImport struct {
	ID                uuid.UUID     `json:"id"`
	Name              string        `json:"name"`
	CatalogID         uuid.UUID     `json:"catalogId"`
	OwnerID           uuid.UUID     `json:"ownerId"`
	DatasetID         *uuid.UUID    `json:"datasetId,omitempty"`
	SourceURL         string        `json:"sourceUrl"`
	Auth              AuthConfig    `json:"auth"`
	CronExpression    string        `json:"cronExpression"`
	Enabled           bool          `json:"enabled"`
	MaxRetries        int           `json:"maxRetries"`
	RetryDelayMinutes int           `json:"retryDelayMinutes"`
	NextRunAt         *time.Time    `json:"nextRunAt,omitempty"`
	Stats             ScheduleStats `json:"stats"`
}

// RecordRun folds one execution into the statistics using a rolling average.
func (s *ScheduledImport) RecordRun(success bool, duration time.Duration, runErr string, at time.Time) {
	s.Stats.TotalRuns++
	if success {
		s.Stats.SuccessfulRuns++
		s.Stats.LastStatus = "success"
		s.Stats.LastError = ""
	} else {
		s.Stats.FailedRuns++
		s.Stats.LastStatus = "failed"
		s.Stats.LastError = runErr
	}

	ms := float64(duration.Milliseconds())
	n := float64(s.Stats.TotalRuns)
	s.Stats.AverageDurationMs = s.Stats.AverageDurationMs + (ms-s.Stats.AverageDurationMs)/n

	ranAt := at.UTC()
	s.Stats.LastRunAt = &ranAt
}
