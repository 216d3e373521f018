// Package registry holds the authoritative local collection of tracked
// documents. It is not safe for concurrent use on its own: the reconciler is
// the single writer and serializes every access.
package registry

import (
	"fmt"

	"github.com/taxdash/docsync/internal/core/domain"
)

type Registry struct {
	docs       []*domain.Document
	byIdentity map[int64]*domain.Document
	byLocalID  map[string]*domain.Document
	observers  []func()
}

func New() *Registry {
	return &Registry{
		byIdentity: make(map[int64]*domain.Document),
		byLocalID:  make(map[string]*domain.Document),
	}
}

// Subscribe registers a callback invoked after every mutation. Callbacks run
// on the mutating goroutine and must not mutate the registry themselves.
func (r *Registry) Subscribe(fn func()) {
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify() {
	for _, fn := range r.observers {
		fn()
	}
}

// Add inserts a document at the front of the collection, newest first, the
// way the listing endpoint orders its snapshot.
func (r *Registry) Add(doc *domain.Document) error {
	if doc.LocalID == "" {
		return fmt.Errorf("add document: %w", domain.ErrInvalidInput)
	}
	if _, exists := r.byLocalID[doc.LocalID]; exists {
		return fmt.Errorf("add document %s: duplicate local id: %w", doc.LocalID, domain.ErrInvalidInput)
	}
	if doc.HasIdentity() {
		if _, exists := r.byIdentity[doc.Identity]; exists {
			return fmt.Errorf("add document identity=%d: duplicate identity: %w", doc.Identity, domain.ErrInvalidInput)
		}
		r.byIdentity[doc.Identity] = doc
	}
	r.docs = append([]*domain.Document{doc}, r.docs...)
	r.byLocalID[doc.LocalID] = doc
	r.notify()
	return nil
}

// Append inserts at the back, preserving the order of a bulk snapshot.
func (r *Registry) Append(doc *domain.Document) error {
	if err := r.Add(doc); err != nil {
		return err
	}
	// Add prepends; move the document back to the tail.
	r.docs = append(r.docs[1:], r.docs[0])
	return nil
}

// AssignIdentity binds the server-assigned key to a document. Identity is
// immutable once set.
func (r *Registry) AssignIdentity(localID string, identity int64) error {
	doc, ok := r.byLocalID[localID]
	if !ok {
		return fmt.Errorf("assign identity %d: %w", identity, domain.ErrDocumentNotFound)
	}
	if doc.HasIdentity() {
		if doc.Identity == identity {
			return nil
		}
		return fmt.Errorf("assign identity %d: already %d: %w", identity, doc.Identity, domain.ErrInvalidInput)
	}
	if _, exists := r.byIdentity[identity]; exists {
		return fmt.Errorf("assign identity %d: already tracked: %w", identity, domain.ErrInvalidInput)
	}
	doc.Identity = identity
	r.byIdentity[identity] = doc
	r.notify()
	return nil
}

func (r *Registry) ByIdentity(identity int64) (*domain.Document, bool) {
	doc, ok := r.byIdentity[identity]
	return doc, ok
}

func (r *Registry) ByLocalID(localID string) (*domain.Document, bool) {
	doc, ok := r.byLocalID[localID]
	return doc, ok
}

// Remove deletes a document from the collection. It returns false when the
// local ID is unknown, which callers treat as already deleted.
func (r *Registry) Remove(localID string) bool {
	doc, ok := r.byLocalID[localID]
	if !ok {
		return false
	}
	delete(r.byLocalID, localID)
	if doc.HasIdentity() {
		delete(r.byIdentity, doc.Identity)
	}
	for i, d := range r.docs {
		if d == doc {
			r.docs = append(r.docs[:i], r.docs[i+1:]...)
			break
		}
	}
	r.notify()
	return true
}

// Touched signals that a document was mutated in place.
func (r *Registry) Touched() {
	r.notify()
}

func (r *Registry) Len() int {
	return len(r.docs)
}

// Documents returns the tracked documents in collection order. The returned
// slice is fresh but the pointers alias live documents.
func (r *Registry) Documents() []*domain.Document {
	out := make([]*domain.Document, len(r.docs))
	copy(out, r.docs)
	return out
}

// CountInStates counts documents whose state matches any of the given states.
func (r *Registry) CountInStates(states ...domain.LifecycleState) int {
	count := 0
	for _, doc := range r.docs {
		for _, s := range states {
			if doc.State == s {
				count++
				break
			}
		}
	}
	return count
}
