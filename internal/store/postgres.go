// Package store persists scan attempts and their issues in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	wcag_level     TEXT NOT NULL DEFAULT 'AA',
	status         TEXT NOT NULL DEFAULT 'pending',
	error_message  TEXT,
	final_url      TEXT,
	page_title     TEXT,
	page_lang      TEXT,
	passes         INTEGER NOT NULL DEFAULT 0,
	inapplicable   INTEGER NOT NULL DEFAULT 0,
	critical_count INTEGER NOT NULL DEFAULT 0,
	serious_count  INTEGER NOT NULL DEFAULT 0,
	moderate_count INTEGER NOT NULL DEFAULT 0,
	minor_count    INTEGER NOT NULL DEFAULT 0,
	duration_ms    BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS issues (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	rule_id       TEXT NOT NULL,
	impact        TEXT NOT NULL,
	wcag_criteria TEXT[] NOT NULL DEFAULT '{}',
	description   TEXT NOT NULL DEFAULT '',
	help          TEXT NOT NULL DEFAULT '',
	help_url      TEXT NOT NULL DEFAULT '',
	css_selector  TEXT NOT NULL DEFAULT '',
	html_snippet  TEXT NOT NULL DEFAULT '',
	nodes         JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_issues_scan_id ON issues (scan_id);
`

// Postgres is the durable store for scans and issues.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

func New(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

func (p *Postgres) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if pv := recover(); pv != nil {
			_ = tx.Rollback(ctx)
			panic(pv)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()
	err = fn(tx)
	return err
}

// CreateScan inserts a new pending scan record at enqueue time.
func (p *Postgres) CreateScan(ctx context.Context, scanID, url string, level model.WCAGLevel) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO scans (id, url, wcag_level, status) VALUES ($1, $2, $3, $4)`,
		scanID, url, string(level), string(model.StatusPending))
	if err != nil {
		return fmt.Errorf("creating scan %s: %w", scanID, err)
	}
	return nil
}

// MarkRunning records the claim of the job by a processor. A redelivered
// job may re-claim a previously failed scan; stale error state is cleared.
func (p *Postgres) MarkRunning(ctx context.Context, scanID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE scans SET status = $2, error_message = NULL, started_at = now() WHERE id = $1`,
		scanID, string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("marking scan %s running: %w", scanID, err)
	}
	return nil
}

// MarkFailed records the terminal failure state with the classified reason.
func (p *Postgres) MarkFailed(ctx context.Context, scanID, message string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE scans SET status = $2, error_message = $3, completed_at = now() WHERE id = $1`,
		scanID, string(model.StatusFailed), message)
	if err != nil {
		return fmt.Errorf("marking scan %s failed: %w", scanID, err)
	}
	return nil
}

// SaveResults persists the issue set, summary counts and the terminal
// completed state in a single transaction. Issue rows from any earlier
// attempt of the same scan are superseded, not appended to, which makes an
// at-least-once redelivery of the job invisible to readers.
func (p *Postgres) SaveResults(ctx context.Context, scanID string, res *model.ScanResult) error {
	counts := model.CountByImpact(res.Issues)

	return p.withTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE scan_id = $1`, scanID); err != nil {
			return fmt.Errorf("superseding issues for scan %s: %w", scanID, err)
		}

		if len(res.Issues) > 0 {
			batch := &pgx.Batch{}
			for _, issue := range res.Issues {
				nodes, err := json.Marshal(issue.Nodes)
				if err != nil {
					return fmt.Errorf("encoding nodes for issue %s: %w", issue.ID, err)
				}
				batch.Queue(
					`INSERT INTO issues
						(id, scan_id, rule_id, impact, wcag_criteria, description,
						 help, help_url, css_selector, html_snippet, nodes)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					issue.ID, scanID, issue.RuleID, string(issue.Impact),
					issue.WCAGCriteria, issue.Description, issue.Help,
					issue.HelpURL, issue.CSSSelector, issue.HTMLSnippet, nodes)
			}
			br := tx.SendBatch(ctx, batch)
			for range res.Issues {
				if _, err := br.Exec(); err != nil {
					_ = br.Close()
					return fmt.Errorf("inserting issues for scan %s: %w", scanID, err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("closing issue batch for scan %s: %w", scanID, err)
			}
		}

		_, err := tx.Exec(ctx,
			`UPDATE scans SET
				status = $2, error_message = NULL,
				final_url = $3, page_title = $4, page_lang = $5,
				passes = $6, inapplicable = $7,
				critical_count = $8, serious_count = $9,
				moderate_count = $10, minor_count = $11,
				duration_ms = $12, completed_at = now()
			 WHERE id = $1`,
			scanID, string(model.StatusCompleted),
			res.FinalURL, res.Title, res.Language,
			res.Passes, res.Inapplicable,
			counts[model.ImpactCritical], counts[model.ImpactSerious],
			counts[model.ImpactModerate], counts[model.ImpactMinor],
			res.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("completing scan %s: %w", scanID, err)
		}
		return nil
	})
}

// ScanSummary is a read model for the ops surface.
type ScanSummary struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	WCAGLevel    string     `json:"wcagLevel"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// GetScan loads a scan row for the ops surface.
func (p *Postgres) GetScan(ctx context.Context, scanID string) (*ScanSummary, error) {
	var s ScanSummary
	var errMsg *string
	err := p.pool.QueryRow(ctx,
		`SELECT id, url, wcag_level, status, error_message, created_at, completed_at
		 FROM scans WHERE id = $1`, scanID).
		Scan(&s.ID, &s.URL, &s.WCAGLevel, &s.Status, &errMsg, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", scanID, err)
	}
	if errMsg != nil {
		s.ErrorMessage = *errMsg
	}
	return &s, nil
}
