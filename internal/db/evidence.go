package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// InsertEvidence stores extracted items under a document with ordinals 0..n-1. Rows that
// already exist for (document_id, ordinal) are left untouched, so a retried step inserts nothing.
func (db *DB) InsertEvidence(ctx context.Context, doc *types.Document, items []types.EvidenceItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i, item := range items {
		batch.Queue(
			`INSERT INTO evidence (document_id, owner_id, kind, text, work_history, source, ordinal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (document_id, ordinal) DO NOTHING`,
			doc.ID, doc.OwnerID, string(item.Kind), item.Text, item.WorkHistory, string(doc.Source), i,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	inserted := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert evidence: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListEvidence returns a document's evidence in ordinal order
func (db *DB) ListEvidence(ctx context.Context, documentID uuid.UUID) ([]types.Evidence, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, owner_id, kind, text, embedding, work_history, source, ordinal, created_at
		 FROM evidence WHERE document_id = $1 ORDER BY ordinal`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []types.Evidence
	for rows.Next() {
		var (
			e      types.Evidence
			kind   string
			source string
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.OwnerID, &kind, &e.Text, &e.Embedding,
			&e.WorkHistory, &source, &e.Ordinal, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		e.Kind = types.EvidenceKind(kind)
		e.Source = types.Source(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetEvidenceEmbeddings writes one vector per evidence id
func (db *DB) SetEvidenceEmbeddings(ctx context.Context, ids []uuid.UUID, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("embedding count %d does not match evidence count %d", len(vectors), len(ids))
	}

	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(`UPDATE evidence SET embedding = $2 WHERE id = $1`, id, vectors[i])
	}
	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return nil
}
