package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/llm"
)

// SaveTelemetry adds the job's model usage to job_telemetry. Counters accumulate across
// flushes so a retried job reports every attempt.
func (db *DB) SaveTelemetry(ctx context.Context, jobID uuid.UUID, usage []llm.Usage) error {
	if len(usage) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range usage {
		batch.Queue(
			`INSERT INTO job_telemetry (job_id, model, calls, failures, prompt_chars, response_chars, latency_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (job_id, model) DO UPDATE
			 SET calls = job_telemetry.calls + EXCLUDED.calls,
			     failures = job_telemetry.failures + EXCLUDED.failures,
			     prompt_chars = job_telemetry.prompt_chars + EXCLUDED.prompt_chars,
			     response_chars = job_telemetry.response_chars + EXCLUDED.response_chars,
			     latency_ms = job_telemetry.latency_ms + EXCLUDED.latency_ms,
			     updated_at = NOW()`,
			jobID, u.Model, u.Calls, u.Failures, u.PromptChars, u.ResponseChars, u.LatencyMs,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range usage {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to save telemetry: %w", err)
		}
	}
	return nil
}

// ListTelemetry returns the recorded usage for a job
func (db *DB) ListTelemetry(ctx context.Context, jobID uuid.UUID) ([]llm.Usage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT model, calls, failures, prompt_chars, response_chars, latency_ms
		 FROM job_telemetry WHERE job_id = $1 ORDER BY model`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	var out []llm.Usage
	for rows.Next() {
		var u llm.Usage
		if err := rows.Scan(&u.Model, &u.Calls, &u.Failures, &u.PromptChars, &u.ResponseChars, &u.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
