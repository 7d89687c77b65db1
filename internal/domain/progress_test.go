package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressAdvanceNeverExceedsTotal(t *testing.T) {
	p := NewProgress()
	now := time.Now()
	p.StartStage(StageAnalyzeDuplicates, 10, now)

	last := 0
	for _, delta := range []int{3, 0, -4, 5, 7, 1} {
		require.NoError(t, p.Advance(StageAnalyzeDuplicates, delta))
		processed := p.Stages[StageAnalyzeDuplicates].Processed
		assert.GreaterOrEqual(t, processed, last)
		assert.LessOrEqual(t, processed, 10)
		last = processed
	}
	assert.Equal(t, 10, p.Stages[StageAnalyzeDuplicates].Processed)
}

func TestProgressAdvanceUnknownStage(t *testing.T) {
	p := NewProgress()
	err := p.Advance(StageGeocodeBatch, 1)
	assert.ErrorIs(t, err, ErrStageNotStarted)
}

func TestProgressPercentageIsWeighted(t *testing.T) {
	p := NewProgress()
	now := time.Now()

	p.StartStage(StageFileParsing, 1, now)
	p.CompleteStage(StageFileParsing, now)
	assert.InDelta(t, 10.0, p.Percentage, 0.001)

	p.StartStage(StageGeocodeBatch, 4, now)
	require.NoError(t, p.Advance(StageGeocodeBatch, 2))
	assert.InDelta(t, 30.0, p.Percentage, 0.001)
}

func TestProgressSkippedStageCarriesNoWeight(t *testing.T) {
	p := NewProgress()
	now := time.Now()

	p.StartStage(StageFileParsing, 1, now)
	p.CompleteStage(StageFileParsing, now)
	p.SkipStage(StageGeocodeBatch, now)

	// 10 of the remaining 60 weight is done.
	assert.InDelta(t, 16.67, p.Percentage, 0.01)
	assert.Equal(t, StageStateSkipped, p.Stages[StageGeocodeBatch].State)
}

func TestProgressPercentageIsMonotonic(t *testing.T) {
	p := NewProgress()
	now := time.Now()

	p.StartStage(StageFileParsing, 1, now)
	p.CompleteStage(StageFileParsing, now)
	before := p.Percentage

	// Restarting a completed stage must not reset it.
	p.StartStage(StageFileParsing, 50, now)
	assert.Equal(t, StageStateCompleted, p.Stages[StageFileParsing].State)
	assert.GreaterOrEqual(t, p.Percentage, before)
}

func TestProgressCompleteAllStages(t *testing.T) {
	p := NewProgress()
	now := time.Now()
	for stage := range StageWeights {
		p.StartStage(stage, 3, now)
		p.CompleteStage(stage, now)
	}
	assert.Equal(t, 100.0, p.Percentage)
}
