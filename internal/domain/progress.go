package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// StageState is the lifecycle of a single stage's progress record.
type StageState string

const (
	StageStateInProgress StageState = "in_progress"
	StageStateCompleted  StageState = "completed"
	StageStateSkipped    StageState = "skipped"
)

// ErrStageNotStarted is returned when progress is reported for a stage that was never started.
var ErrStageNotStarted = errors.New("stage not started")

// StageWeights assigns each tracked stage its share of the overall percentage.
var StageWeights = map[Stage]float64{
	StageFileParsing:         10,
	StageAnalyzeDuplicates:   10,
	StageDetectSchema:        10,
	StageCreateSchemaVersion: 5,
	StageGeocodeBatch:        40,
	StageCreateEvents:        25,
}

// StageProgress tracks processed units for one stage.
type StageProgress struct {
	State       StageState `json:"state"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Fraction returns the completed share of the stage in [0, 1].
func (sp StageProgress) Fraction() float64 {
	switch {
	case sp.State == StageStateCompleted:
		return 1
	case sp.Total <= 0:
		return 0
	default:
		return math.Min(1, float64(sp.Processed)/float64(sp.Total))
	}
}

// Progress aggregates stage progress for an import job.
type Progress struct {
	Stages        map[Stage]StageProgress `json:"stages"`
	TotalRows     int                     `json:"totalRows"`
	ProcessedRows int                     `json:"processedRows"`
	Percentage    float64                 `json:"percentage"`
}

// NewProgress returns an empty progress record.
func NewProgress() Progress {
	return Progress{Stages: map[Stage]StageProgress{}}
}

func (p *Progress) ensure() {
	if p.Stages == nil {
		p.Stages = map[Stage]StageProgress{}
	}
}

// StartStage initializes the stage with zero processed units. A completed
// stage is left untouched so redelivered work cannot move it backwards.
func (p *Progress) StartStage(stage Stage, total int, at time.Time) {
	p.ensure()
	if total < 0 {
		total = 0
	}
	if existing, ok := p.Stages[stage]; ok && existing.State == StageStateCompleted {
		return
	}
	started := at.UTC()
	p.Stages[stage] = StageProgress{
		State:     StageStateInProgress,
		Total:     total,
		StartedAt: &started,
	}
	p.recompute()
}

// Advance adds delta processed units to the stage, capped at the stage total.
func (p *Progress) Advance(stage Stage, delta int) error {
	p.ensure()
	sp, ok := p.Stages[stage]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStageNotStarted, stage)
	}
	if delta <= 0 || sp.State != StageStateInProgress {
		return nil
	}
	sp.Processed += delta
	if sp.Processed > sp.Total {
		sp.Processed = sp.Total
	}
	p.Stages[stage] = sp
	p.recompute()
	return nil
}

// CompleteStage marks the stage done with processed equal to total.
func (p *Progress) CompleteStage(stage Stage, at time.Time) {
	p.ensure()
	sp := p.Stages[stage]
	if sp.StartedAt == nil {
		started := at.UTC()
		sp.StartedAt = &started
	}
	completed := at.UTC()
	sp.State = StageStateCompleted
	sp.Processed = sp.Total
	sp.CompletedAt = &completed
	p.Stages[stage] = sp
	p.recompute()
}

// SkipStage marks the stage skipped, removing its weight from the overall percentage.
func (p *Progress) SkipStage(stage Stage, at time.Time) {
	p.ensure()
	sp := p.Stages[stage]
	if sp.State == StageStateCompleted {
		return
	}
	skipped := at.UTC()
	sp.State = StageStateSkipped
	sp.CompletedAt = &skipped
	p.Stages[stage] = sp
	p.recompute()
}

// recompute derives the weighted overall percentage. The stored value never decreases.
func (p *Progress) recompute() {
	var weightTotal, weighted float64
	for stage, weight := range StageWeights {
		sp, ok := p.Stages[stage]
		if ok && sp.State == StageStateSkipped {
			continue
		}
		weightTotal += weight
		if ok {
			weighted += weight * sp.Fraction()
		}
	}

	if weightTotal == 0 {
		return
	}

	computed := math.Round(weighted/weightTotal*10000) / 100
	if computed > 100 {
		computed = 100
	}
	if computed > p.Percentage {
		p.Percentage = computed
	}
}
