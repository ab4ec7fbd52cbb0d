// Package types provides the domain records shared by the ingestion and tailoring pipelines.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where ingested material came from.
type Source string

// Ingestion sources
const (
	SourceResume Source = "resume"
	SourceStory  Source = "story"
)

// EvidenceKind classifies an evidence span.
type EvidenceKind string

// Evidence kinds
const (
	KindAccomplishment EvidenceKind = "accomplishment"
	KindSkillListed    EvidenceKind = "skill_listed"
	KindTraitIndicator EvidenceKind = "trait_indicator"
	KindEducation      EvidenceKind = "education"
	KindCertification  EvidenceKind = "certification"
)

// EvidenceKinds lists every kind in extraction order.
func EvidenceKinds() []EvidenceKind {
	return []EvidenceKind{KindAccomplishment, KindSkillListed, KindTraitIndicator, KindEducation, KindCertification}
}

// Valid reports whether k is a known kind.
func (k EvidenceKind) Valid() bool {
	for _, known := range EvidenceKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// EvidenceItem is one span returned by the extraction stage, before storage.
type EvidenceItem struct {
	Kind        EvidenceKind `json:"kind"`
	Text        string       `json:"text"`
	WorkHistory *string      `json:"work_history,omitempty"`
}

// Evidence is a stored, immutable evidence row.
type Evidence struct {
	ID          uuid.UUID    `json:"id"`
	DocumentID  uuid.UUID    `json:"document_id"`
	OwnerID     uuid.UUID    `json:"owner_id"`
	Kind        EvidenceKind `json:"kind"`
	Text        string       `json:"text"`
	Embedding   []float32    `json:"-"`
	WorkHistory *string      `json:"work_history,omitempty"`
	Source      Source       `json:"source"`
	Ordinal     int          `json:"ordinal"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

// Document statuses
const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is an ingested resume or story.
type Document struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         uuid.UUID      `json:"owner_id"`
	JobID           *uuid.UUID     `json:"job_id,omitempty"`
	Source          Source         `json:"source"`
	Filename        *string        `json:"filename,omitempty"`
	StorageLocation *string        `json:"storage_location,omitempty"`
	ContentHash     string         `json:"content_hash"`
	RawText         string         `json:"-"`
	Status          DocumentStatus `json:"status"`
	Error           *string        `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DocumentInput describes a document to create.
type DocumentInput struct {
	OwnerID         uuid.UUID
	JobID           uuid.UUID
	Source          Source
	Filename        *string
	StorageLocation *string
	ContentHash     string
	RawText         string
}
