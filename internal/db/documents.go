package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/identity-pipeline/internal/types"
)

// ErrDocumentExists is returned when another live document already holds (owner, content_hash).
var ErrDocumentExists = types.ErrDocumentExists

const documentColumns = `id, owner_id, job_id, source, filename, storage_location, content_hash,
	raw_text, status, error, created_at, updated_at`

// CreateDocument inserts a processing document. A retried call from the same job returns
// the row it created earlier; a failed document from an older job is reclaimed and its
// evidence discarded.
func (db *DB) CreateDocument(ctx context.Context, in types.DocumentInput) (*types.Document, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = $1 AND content_hash = $2
		 FOR UPDATE`,
		in.OwnerID, in.ContentHash,
	))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing document: %w", err)
	}

	var doc *types.Document
	switch {
	case existing == nil:
		doc, err = scanDocument(tx.QueryRow(ctx,
			`INSERT INTO documents (owner_id, job_id, source, filename, storage_location, content_hash, raw_text, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'processing')
			 RETURNING `+documentColumns,
			in.OwnerID, in.JobID, string(in.Source), in.Filename, in.StorageLocation, in.ContentHash, in.RawText,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}

	case existing.JobID != nil && *existing.JobID == in.JobID:
		doc = existing

	case existing.Status == types.DocumentFailed:
		if _, err := tx.Exec(ctx, `DELETE FROM evidence WHERE document_id = $1`, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to discard stale evidence: %w", err)
		}
		doc, err = scanDocument(tx.QueryRow(ctx,
			`UPDATE documents
			 SET job_id = $2, source = $3, filename = $4, storage_location = $5, raw_text = $6,
			     status = 'processing', error = NULL, created_at = NOW(), updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+documentColumns,
			existing.ID, in.JobID, string(in.Source), in.Filename, in.StorageLocation, in.RawText,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to reclaim document: %w", err)
		}

	default:
		return nil, ErrDocumentExists
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit document: %w", err)
	}
	return doc, nil
}

// GetDocument retrieves a document by ID
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// FindDocumentByHash retrieves the owner's document with the given content hash
func (db *DB) FindDocumentByHash(ctx context.Context, ownerID uuid.UUID, hash string) (*types.Document, error) {
	doc, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 AND content_hash = $2`,
		ownerID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// SetDocumentStatus updates a document's status and error text
func (db *DB) SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, errMsg *string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	var (
		doc    types.Document
		source string
		status string
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.JobID, &source, &doc.Filename, &doc.StorageLocation,
		&doc.ContentHash, &doc.RawText, &status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Source = types.Source(source)
	doc.Status = types.DocumentStatus(status)
	return &doc, nil
}
