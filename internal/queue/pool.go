package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HandlerFunc processes one message.
type HandlerFunc func(ctx context.Context, msg Message) error

// PoolConfig tunes a worker pool.
type PoolConfig struct {
	Workers     int
	MaxAttempts int
	PollTimeout time.Duration
	// Retryable reports whether a failed message should be redelivered.
	// Nil retries every error.
	Retryable func(error) bool
}

// Pool runs a fixed number of workers pulling from a Source.
type Pool struct {
	source  Source
	handler HandlerFunc
	cfg     PoolConfig
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewPool builds a worker pool.
func NewPool(source Source, handler HandlerFunc, cfg PoolConfig, logger logrus.FieldLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pool{source: source, handler: handler, cfg: cfg, logger: logger}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.cfg.Workers).Info("starting worker pool")
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.WithField("worker_id", id)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.source.Dequeue(ctx, p.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, ErrEmpty) || ctx.Err() != nil {
				continue
			}
			logger.WithError(err).Error("dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		p.process(ctx, logger, msg)
	}
}

func (p *Pool) process(ctx context.Context, logger logrus.FieldLogger, msg Message) {
	msg.Attempt++
	entry := logger.WithFields(logrus.Fields{
		"task":    msg.Type,
		"job_id":  msg.ID,
		"attempt": msg.Attempt,
	})

	start := time.Now()
	err := p.handler(ctx, msg)
	if err == nil {
		entry.WithField("duration", time.Since(start)).Debug("task completed")
		return
	}

	retry := p.cfg.Retryable == nil || p.cfg.Retryable(err)
	if !retry || msg.Attempt >= p.cfg.MaxAttempts {
		entry.WithError(err).Error("task failed permanently")
		return
	}

	entry.WithError(err).Warn("task failed, requeueing")
	if rqErr := p.source.Requeue(ctx, msg); rqErr != nil {
		entry.WithError(rqErr).Error("requeue failed")
	}
}
