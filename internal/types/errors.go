package types

import "errors"

var (
	// ErrDocumentExists is returned when another live document already holds (owner, content_hash).
	ErrDocumentExists = errors.New("document with this content already exists")
	// ErrOpportunityExists is returned when another job already created the (owner, content_hash) opportunity.
	ErrOpportunityExists = errors.New("opportunity with this content already exists")
)
