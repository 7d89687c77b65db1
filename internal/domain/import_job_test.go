package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportJobAttachSchemaVersionOnce(t *testing.T) {
	job := NewImportJob(uuid.New(), uuid.New())
	require.False(t, job.HasSchemaVersion())

	first := uuid.New()
	require.NoError(t, job.AttachSchemaVersion(first))
	assert.True(t, job.HasSchemaVersion())

	err := job.AttachSchemaVersion(uuid.New())
	assert.ErrorIs(t, err, ErrSchemaVersionAlreadySet)
	assert.Equal(t, first, *job.DatasetSchemaVersionID)
}

func TestImportJobFailRecordsErrorLog(t *testing.T) {
	job := NewImportJob(uuid.New(), uuid.New())
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	job.Fail(errors.New("boom"), "file parsing", at)

	assert.Equal(t, StageFailed, job.Stage)
	assert.Equal(t, StatusFailed, job.Status)
	require.NotNil(t, job.ErrorLog)
	assert.Equal(t, "boom", job.ErrorLog.Error)
	assert.Equal(t, "file parsing", job.ErrorLog.Context)
	assert.Equal(t, at, job.ErrorLog.Timestamp)
	assert.True(t, job.IsTerminal())
}

func TestImportJobMoveToStatus(t *testing.T) {
	job := NewImportJob(uuid.New(), uuid.New())
	job.MoveTo(StageFileParsing)
	assert.Equal(t, StatusProcessing, job.Status)
	job.MoveTo(StageCompleted)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestPartitionRowsConservesRows(t *testing.T) {
	rows := make([]Row, 250)
	for i := range rows {
		rows[i] = Row{"n": i}
	}
	batches := PartitionRows(uuid.New(), rows, 100)
	require.Len(t, batches, 3)

	total := 0
	for i, batch := range batches {
		assert.Equal(t, i, batch.Index)
		total += len(batch.Rows)
	}
	assert.Equal(t, 250, total)
	assert.Len(t, batches[2].Rows, 50)
	assert.Equal(t, 200, batches[2].Rows[0].Index)
}

func TestScheduledImportRecordRunRollingAverage(t *testing.T) {
	s := ScheduledImport{}
	now := time.Now()

	s.RecordRun(true, 100*time.Millisecond, "", now)
	s.RecordRun(false, 300*time.Millisecond, "timeout", now)

	assert.Equal(t, 2, s.Stats.TotalRuns)
	assert.Equal(t, 1, s.Stats.SuccessfulRuns)
	assert.Equal(t, 1, s.Stats.FailedRuns)
	assert.InDelta(t, 200.0, s.Stats.AverageDurationMs, 0.001)
	assert.Equal(t, "failed", s.Stats.LastStatus)
	assert.Equal(t, "timeout", s.Stats.LastError)
}

func TestSchemaSummaryDefinitions(t *testing.T) {
	summary := SchemaSummary{
		"title": {Type: FieldTypeString, Occurrences: 2},
		"date":  {Type: FieldTypeTimestamp, Occurrences: 1, NullCount: 1},
	}
	defs := summary.Definitions(2)
	require.Len(t, defs, 2)
	assert.Equal(t, "date", defs[0].Name)
	assert.False(t, defs[0].Required)
	assert.Equal(t, "title", defs[1].Name)
	assert.True(t, defs[1].Required)
}

func TestHashRowIgnoresKeyOrder(t *testing.T) {
	a, err := HashRow(Row{"title": "Launch", "date": "2024-03-15"})
	require.NoError(t, err)
	b, err := HashRow(Row{"date": "2024-03-15", "title": "Launch"})
	require.NoError(t, err)
	c, err := HashRow(Row{"date": "2024-03-16", "title": "Launch"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
