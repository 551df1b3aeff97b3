package ports

import (
	"context"
	"errors"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// ErrDocumentNotFound is returned when a document id does not exist
var ErrDocumentNotFound = errors.New("document not found")

// Document is one stored record
type Document struct {
	ID   string        `json:"id"`
	Data domain.Fields `json:"data"`
}

// MutationKind represents one kind of batched write
type MutationKind string

const (
	MutationSet    MutationKind = "set"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is one write inside an atomic batch
type Mutation struct {
	Kind       MutationKind
	Collection string
	ID         string
	Data       domain.Fields
}

// DocumentStore defines the collection-scoped document store the executor runs against
type DocumentStore interface {
	// Get retrieves one document by id
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query retrieves documents matching every filter, ordered and limited
	Query(ctx context.Context, collection string, q domain.StoreQuery) ([]Document, error)

	// Add saves a new document and returns its generated id
	Add(ctx context.Context, collection string, data domain.Fields) (string, error)

	// Update merges data into an existing document
	Update(ctx context.Context, collection, id string, data domain.Fields) error

	// Delete removes a document
	Delete(ctx context.Context, collection, id string) error

	// Batch applies every mutation or none of them
	Batch(ctx context.Context, mutations []Mutation) error
}
