package domain

import "context"

// DocumentStore is a minimal abstraction over durable backends for document
// snapshots. Implementations persist the full tile/shared-model graph after
// every successful save; partial writes are not supported.
type DocumentStore interface {
	// SaveDocument stores or replaces the snapshot keyed by its document id.
	SaveDocument(ctx context.Context, snapshot DocumentSnapshot) error
	// LoadDocument returns the snapshot for id. The boolean reports whether
	// the document exists; absence is not an error.
	LoadDocument(ctx context.Context, id string) (DocumentSnapshot, bool, error)
	// DeleteDocument removes the snapshot; returns true if it existed.
	DeleteDocument(ctx context.Context, id string) (bool, error)
	// ListDocumentIDs returns the ids of all stored documents, sorted.
	ListDocumentIDs(ctx context.Context) ([]string, error)
	// Close releases backend resources.
	Close() error
}
