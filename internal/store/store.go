package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a document does not exist at the given path.
var ErrNotFound = errors.New("document not found")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store closed")

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value. Stores replace it with their own
// clock reading when the write is applied.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether value is the ServerTimestamp sentinel.
func IsServerTimestamp(value interface{}) bool {
	_, ok := value.(serverTimestamp)
	return ok
}

// SetOptions controls upsert behaviour.
type SetOptions struct {
	// Merge keeps fields of an existing document that are absent from the write.
	Merge bool
}

// Document is a single record in a collection path.
type Document struct {
	ID     string
	Fields Fields
}

// Snapshot is the full state of a collection at one point in time.
type Snapshot struct {
	Path      string
	Documents []Document
	ReadAt    time.Time
}

// Subscription delivers live snapshots until closed.
type Subscription = Source[Snapshot]

// Store is a real-time document store with subscribe semantics.
type Store interface {
	// SubscribeQuery streams snapshots of path ordered ascending by orderBy.
	// Documents without a resolved orderBy value sort last in arrival order.
	SubscribeQuery(ctx context.Context, path, orderBy string) (Subscription, error)
	// SubscribeCollection streams unordered snapshots of path.
	SubscribeCollection(ctx context.Context, path string) (Subscription, error)
	Get(ctx context.Context, path, id string) (Document, error)
	List(ctx context.Context, path string) ([]Document, error)
	Upsert(ctx context.Context, path, id string, fields Fields, opts SetOptions) error
	Create(ctx context.Context, path string, fields Fields) (string, error)
	Delete(ctx context.Context, path, id string) error
	// Increment atomically adds delta to the integer field of id, creating the
	// document when absent. The stored value never drops below zero.
	Increment(ctx context.Context, path, id, field string, delta int64) (int64, error)
	Close() error
}

// orderDocuments sorts docs, already in arrival order, by the timestamp field.
func orderDocuments(docs []Document, field string) []Document {
	if field == "" {
		return docs
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ti, okI := docs[i].Fields.Time(field)
		tj, okJ := docs[j].Fields.Time(field)
		switch {
		case okI && okJ:
			return ti.Before(tj)
		case okI:
			return true
		default:
			return false
		}
	})
	return docs
}

// resolveTimestamps replaces ServerTimestamp sentinels with now.
func resolveTimestamps(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for key, value := range fields {
		if IsServerTimestamp(value) {
			out[key] = now
			continue
		}
		out[key] = value
	}
	return out
}

// mergeFields applies incoming onto existing according to opts.
func mergeFields(existing, incoming Fields, opts SetOptions) Fields {
	if !opts.Merge || existing == nil {
		return incoming.Clone()
	}
	out := existing.Clone()
	for key, value := range incoming {
		out[key] = value
	}
	return out
}

// incrementField returns a copy of existing with delta added to field, clamped at zero.
func incrementField(existing Fields, field string, delta int64) (Fields, int64) {
	next := existing.Int64(field) + delta
	if next < 0 {
		next = 0
	}
	out := existing.Clone()
	out[field] = next
	return out, next
}
