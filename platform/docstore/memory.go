package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memoryDoc struct {
	body    []byte
	version uint64
}

// MemoryStore is an in-process Store used by tests and single-node deployments.
// Transactions read a snapshot, buffer their writes and validate the versions of
// every document they touched at commit time.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[Ref]memoryDoc
	clock       uint64
	maxAttempts int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Ref]memoryDoc), maxAttempts: defaultMaxAttempts}
}

// RunInTransaction executes fn and commits its writes when no document it read
// changed in the meantime; otherwise fn is retried.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memoryTx{store: s, reads: map[Ref]uint64{}, writes: map[Ref]*pendingWrite{}}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
	}
	return ErrConflict
}

// Get reads a single document outside any transaction.
func (s *MemoryStore) Get(_ context.Context, ref Ref, dst any) error {
	s.mu.RLock()
	doc, ok := s.docs[ref]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(doc.body, dst)
}

// Apply patches a single document atomically.
func (s *MemoryStore) Apply(ctx context.Context, ref Ref, patch *Patch) error {
	return s.RunInTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Apply(ctx, ref, patch)
	})
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *MemoryStore) Delete(_ context.Context, ref Ref) error {
	s.mu.Lock()
	delete(s.docs, ref)
	s.mu.Unlock()
	return nil
}

// List returns the documents of collection whose ID starts with idPrefix.
func (s *MemoryStore) List(_ context.Context, collection, idPrefix string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0)
	for ref, doc := range s.docs {
		if ref.Collection != collection || !strings.HasPrefix(ref.ID, idPrefix) {
			continue
		}
		body := make([]byte, len(doc.body))
		copy(body, doc.body)
		out = append(out, Document{Ref: ref, Body: body})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID < out[j].Ref.ID })
	return out, nil
}

func (s *MemoryStore) load(ref Ref) ([]byte, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[ref]
	if !ok {
		return nil, 0, false
	}
	return doc.body, doc.version, true
}

func (s *MemoryStore) commit(tx *memoryTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, seen := range tx.reads {
		if s.docs[ref].version != seen {
			return false
		}
	}
	for _, ref := range tx.order {
		w := tx.writes[ref]
		if w.deleted {
			delete(s.docs, ref)
			continue
		}
		s.clock++
		s.docs[ref] = memoryDoc{body: w.body, version: s.clock}
	}
	return true
}

type pendingWrite struct {
	body    []byte
	deleted bool
}

type memoryTx struct {
	store  *MemoryStore
	reads  map[Ref]uint64
	writes map[Ref]*pendingWrite
	order  []Ref
}

// current returns the body visible to the transaction and records the read version.
func (tx *memoryTx) current(ref Ref) ([]byte, bool) {
	if w, ok := tx.writes[ref]; ok {
		if w.deleted {
			return nil, false
		}
		return w.body, true
	}
	body, version, ok := tx.store.load(ref)
	if _, seen := tx.reads[ref]; !seen {
		tx.reads[ref] = version
	}
	return body, ok
}

func (tx *memoryTx) stage(ref Ref, w *pendingWrite) {
	if _, ok := tx.writes[ref]; !ok {
		tx.order = append(tx.order, ref)
	}
	// Blind writes still participate in conflict detection.
	if _, seen := tx.reads[ref]; !seen {
		_, version, _ := tx.store.load(ref)
		tx.reads[ref] = version
	}
	tx.writes[ref] = w
}

func (tx *memoryTx) Get(_ context.Context, ref Ref, dst any) error {
	body, ok := tx.current(ref)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(body, dst)
}

func (tx *memoryTx) Set(_ context.Context, ref Ref, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	tx.stage(ref, &pendingWrite{body: body})
	return nil
}

func (tx *memoryTx) Apply(_ context.Context, ref Ref, patch *Patch) error {
	raw, _ := tx.current(ref)
	body, err := decodeObject(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	if err := ApplyPatch(body, patch); err != nil {
		return fmt.Errorf("patch %s: %w", ref, err)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	tx.stage(ref, &pendingWrite{body: encoded})
	return nil
}

func (tx *memoryTx) Delete(_ context.Context, ref Ref) error {
	tx.stage(ref, &pendingWrite{deleted: true})
	return nil
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
