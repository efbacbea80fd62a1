// Package docstore provides a transactional JSON document store abstraction.
// This is part of the platform layer and contains no business logic.
//
// Documents are addressed by (collection, id) and mutated either by whole-document
// writes or by a Patch made of four primitives: set, delete, array-append and
// increment. Implementations detect concurrent writes to the same document and
// retry the transaction function transparently.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrConflict is returned when a transaction kept losing write races after all retries.
var ErrConflict = errors.New("document write conflict")

const defaultMaxAttempts = 10

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

// NewRef builds a ref whose ID is the colon-joined parts.
func NewRef(collection string, idParts ...string) Ref {
	return Ref{Collection: collection, ID: strings.Join(idParts, ":")}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Document is a raw document returned by List.
type Document struct {
	Ref  Ref
	Body json.RawMessage
}

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst any) error {
	return json.Unmarshal(d.Body, dst)
}

// Tx is the view of the store inside RunInTransaction.
// Reads observe the transaction's own pending writes.
type Tx interface {
	Get(ctx context.Context, ref Ref, dst any) error
	Set(ctx context.Context, ref Ref, doc any) error
	Apply(ctx context.Context, ref Ref, patch *Patch) error
	Delete(ctx context.Context, ref Ref) error
}

// Store is a transactional document store.
type Store interface {
	// RunInTransaction runs fn atomically. fn may be invoked more than once when
	// a conflicting write is detected, so it must not have side effects outside tx.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, ref Ref, dst any) error
	// Apply atomically applies patch to a single document, creating it when absent.
	Apply(ctx context.Context, ref Ref, patch *Patch) error
	Delete(ctx context.Context, ref Ref) error
	// List returns the documents of a collection whose IDs start with idPrefix, ordered by ID.
	List(ctx context.Context, collection, idPrefix string) ([]Document, error)
}
