// Package worker drives one durable-queue scan job through its lifecycle:
// claim, scan, persist, and truthful terminal state on every path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/cache"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/metrics"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/scanner"
)

// ScanRunner executes one scan attempt. Satisfied by *scanner.Scanner.
type ScanRunner interface {
	Scan(ctx context.Context, req model.ScanRequest, progress scanner.Progress) (*model.ScanResult, error)
}

// Store is the durable persistence surface the processor needs.
type Store interface {
	MarkRunning(ctx context.Context, scanID string) error
	MarkFailed(ctx context.Context, scanID, message string) error
	SaveResults(ctx context.Context, scanID string, res *model.ScanResult) error
}

// StatusCache is the low-latency mirror consumed by status polling.
type StatusCache interface {
	SetStatus(ctx context.Context, scanID string, entry cache.StatusEntry) error
	SetProgress(ctx context.Context, scanID string, pct int) error
}

// Defaults fills in what the queue payload leaves unspecified.
type Defaults struct {
	Timeout   time.Duration
	WaitUntil string
}

// Processor handles scan jobs from the durable queue.
type Processor struct {
	runner   ScanRunner
	store    Store
	statuses StatusCache
	defaults Defaults
	logger   *zap.SugaredLogger
}

func NewProcessor(runner ScanRunner, store Store, statuses StatusCache, defaults Defaults, logger *zap.SugaredLogger) *Processor {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	return &Processor{
		runner:   runner,
		store:    store,
		statuses: statuses,
		defaults: defaults,
		logger:   logger,
	}
}

// Process runs one job to a terminal state. A returned error means the
// durable record could not be updated truthfully (or was never claimed)
// and the delivery should go back to the queue; scan-level failures are
// recorded as FAILED and returned as the classified *scanner.ScanError so
// the consumer can surface the reason to the broker.
func (p *Processor) Process(ctx context.Context, job model.JobPayload) error {
	log := p.logger.With("scan_id", job.ScanID, "url", job.URL)

	req := model.ScanRequest{
		ScanID:    job.ScanID,
		URL:       job.URL,
		Level:     model.ParseWCAGLevel(job.WCAGLevel),
		Timeout:   p.defaults.Timeout,
		WaitUntil: p.defaults.WaitUntil,
	}
	if job.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	if err := p.store.MarkRunning(ctx, job.ScanID); err != nil {
		return &scanner.ScanError{Kind: scanner.FailurePersistence, Err: err}
	}
	p.cacheStatus(ctx, log, job.ScanID, cache.StatusEntry{
		Status:    model.StatusRunning,
		URL:       job.URL,
		CreatedAt: time.Now().UTC(),
	})
	p.cacheProgress(ctx, log, job.ScanID, 10)

	// Progress is advisory and coarse; it must only move forward within
	// the attempt.
	last := 10
	progress := func(stage string, pct int) {
		if pct <= last {
			return
		}
		last = pct
		log.Debugw("scan progress", "stage", stage, "pct", pct)
		p.cacheProgress(ctx, log, job.ScanID, pct)
	}

	result, err := p.runner.Scan(ctx, req, progress)
	if err != nil {
		return p.fail(ctx, log, job, err)
	}

	if err := p.store.SaveResults(ctx, job.ScanID, result); err != nil {
		perr := &scanner.ScanError{Kind: scanner.FailurePersistence, Err: err}
		if ferr := p.fail(ctx, log, job, perr); ferr != nil {
			return ferr
		}
		return perr
	}

	now := time.Now().UTC()
	p.cacheStatus(ctx, log, job.ScanID, cache.StatusEntry{
		Status:      model.StatusCompleted,
		URL:         result.FinalURL,
		CreatedAt:   now,
		CompletedAt: &now,
	})
	p.cacheProgress(ctx, log, job.ScanID, 100)

	metrics.ScansTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
	metrics.ScanDuration.Observe(result.Duration.Seconds())
	for _, issue := range result.Issues {
		metrics.IssuesFound.WithLabelValues(string(issue.Impact)).Inc()
	}

	log.Infow("scan completed",
		"issues", len(result.Issues),
		"passes", result.Passes,
		"duration", result.Duration)
	return nil
}

// fail records the terminal FAILED state for a classified error. If even
// the durable write fails the processor gives the delivery back to the
// queue; the status cache's TTL prevents a stuck RUNNING entry.
func (p *Processor) fail(ctx context.Context, log *zap.SugaredLogger, job model.JobPayload, scanErr error) error {
	kind := scanner.FailureAnalysis
	var serr *scanner.ScanError
	if errors.As(scanErr, &serr) {
		kind = serr.Kind
	}

	metrics.ScansTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	metrics.ScanFailures.WithLabelValues(string(kind)).Inc()
	log.Warnw("scan failed", "kind", kind, "error", scanErr)

	if err := p.store.MarkFailed(ctx, job.ScanID, scanErr.Error()); err != nil {
		return &scanner.ScanError{
			Kind: scanner.FailurePersistence,
			Err:  fmt.Errorf("recording failure (%v): %w", scanErr, err),
		}
	}

	now := time.Now().UTC()
	p.cacheStatus(ctx, log, job.ScanID, cache.StatusEntry{
		Status:       model.StatusFailed,
		URL:          job.URL,
		CreatedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: scanErr.Error(),
	})
	p.cacheProgress(ctx, log, job.ScanID, 0)

	return scanErr
}

// Cache writes are best effort: the durable record is the source of truth
// and cache entries expire on their own.
func (p *Processor) cacheStatus(ctx context.Context, log *zap.SugaredLogger, scanID string, entry cache.StatusEntry) {
	if err := p.statuses.SetStatus(ctx, scanID, entry); err != nil {
		log.Warnw("updating status cache", "error", err)
	}
}

func (p *Processor) cacheProgress(ctx context.Context, log *zap.SugaredLogger, scanID string, pct int) {
	if err := p.statuses.SetProgress(ctx, scanID, pct); err != nil {
		log.Warnw("updating progress cache", "error", err)
	}
}
