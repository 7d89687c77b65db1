// Package jobs implements the import pipeline's queued task handlers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/eventingest/internal/metrics"
	"github.com/rpattn/eventingest/internal/queue"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Task types double as queue names.
const (
	TaskURLFetch            = "url-fetch"
	TaskDatasetDetection    = "dataset-detection"
	TaskFileParsing         = "file-parsing"
	TaskProcessBatch        = "process-batch"
	TaskValidateSchema      = "validate-schema"
	TaskCreateSchemaVersion = "create-schema-version"
	TaskGeocodeBatch        = "geocode-batch"
	TaskCreateEvents        = "create-events"
	TaskCleanupStuckLocks   = "cleanup-stuck-locks"
)

var (
	// ErrMissingStore is returned by every handler built without a persisted store.
	ErrMissingStore = errors.New("persisted store handle is required")
	// ErrTransitionInProgress is returned when another handler holds the job's stage lock.
	ErrTransitionInProgress = errors.New("stage transition already in progress")
	// ErrUnknownTask is returned when no handler is registered for a task type.
	ErrUnknownTask = errors.New("unknown task type")
	// ErrNotAwaitingApproval is returned when approving a job that is not parked at the approval gate.
	ErrNotAwaitingApproval = errors.New("import job is not awaiting schema approval")
)

// Task is the explicit input handed to every handler.
type Task struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input"`
}

// Result wraps a handler's stage specific output.
type Result struct {
	Output any `json:"output"`
}

// Handler processes one task.
type Handler interface {
	Handle(ctx context.Context, task Task) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, task Task) (Result, error) {
	return f(ctx, task)
}

// SkippedOutput is returned when a handler found nothing to do.
type SkippedOutput struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

func skipped(reason string) Result {
	return Result{Output: SkippedOutput{Skipped: true, Reason: reason}}
}

// PermanentError marks a failure that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so dispatchers do not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) || errors.Is(err, ErrMissingStore) || errors.Is(err, ErrUnknownTask)
}

// Retryable is the inverse of IsPermanent, for queue.PoolConfig.
func Retryable(err error) bool {
	return !IsPermanent(err)
}

var validate = validator.New()

// decodeInput unmarshals and validates the task input. Missing required
// fields fail with the message named by required, e.g. "Import Job ID is
// required for file parsing job".
func decodeInput(task Task, dst any, required string) error {
	raw := task.Input
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return Permanent(fmt.Errorf("decode %s input: %w", task.Type, err))
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && required != "" {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					return Permanent(errors.New(required))
				}
			}
		}
		return Permanent(fmt.Errorf("invalid %s input: %w", task.Type, err))
	}
	return nil
}

// Registry routes tasks to handlers by type.
type Registry struct {
	handlers map[string]Handler
	logger   logrus.FieldLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType string, handler Handler) {
	r.handlers[taskType] = handler
}

// Types lists registered task types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}

// Dispatch runs the handler registered for task.Type.
func (r *Registry) Dispatch(ctx context.Context, task Task) (Result, error) {
	handler, ok := r.handlers[task.Type]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTask, task.Type)
	}

	start := time.Now()
	result, err := handler.Handle(ctx, task)
	elapsed := time.Since(start)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case isSkipped(result):
		outcome = "skipped"
	}
	metrics.ObserveTask(task.Type, outcome, elapsed)

	entry := r.logger.WithFields(logrus.Fields{
		"task":     task.Type,
		"job_id":   task.ID,
		"duration": elapsed,
	})
	if err != nil {
		entry.WithError(err).Warn("task returned error")
	} else {
		entry.WithField("result", outcome).Debug("task handled")
	}
	return result, err
}

// HandleMessage adapts Dispatch to a queue worker pool.
func (r *Registry) HandleMessage(ctx context.Context, msg queue.Message) error {
	_, err := r.Dispatch(ctx, Task{ID: msg.ID, Type: msg.Type, Input: msg.Input})
	return err
}

func isSkipped(result Result) bool {
	out, ok := result.Output.(SkippedOutput)
	return ok && out.Skipped
}
