// Package docstore is the document-database seam used by every chat
// component. Paths are slash separated ("chats/a_b/messages/m1"): odd
// segment counts name collections, even counts name documents.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidPath = errors.New("invalid document path")
)

// Document is a stored document and its metadata.
type Document struct {
	Path       string
	ID         string
	Fields     map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// Filter is an equality condition on a single field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from a collection, or from every collection with
// that id when Group is set.
type Query struct {
	Collection string
	Group      bool
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

type Change struct {
	Kind ChangeKind
	Doc  Document
}

// DocSnapshot is one emission of a document watch.
type DocSnapshot struct {
	Path   string
	Doc    Document
	Exists bool
}

// QuerySnapshot is one emission of a query watch: the full current result
// set plus the changes since the previous emission. The first emission
// reports every document as added.
type QuerySnapshot struct {
	Docs     []Document
	Changes  []Change
	ReadTime time.Time
}

type setOptions struct {
	merge bool
}

type SetOption func(*setOptions)

// Merge makes Set combine the given fields into an existing document rather
// than replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// Store is a document database with live listeners. Watch channels are
// closed once ctx is done or the backend stops delivering.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error
	// Update changes fields of an existing document; ErrNotFound otherwise.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	WatchDoc(ctx context.Context, path string) (<-chan DocSnapshot, error)
	WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error)
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's current time when written.
var ServerTimestamp any = serverTimestamp{}

type arrayUnion struct {
	values []any
}

// ArrayUnion adds values to an array field, skipping ones already present.
func ArrayUnion(values ...any) any {
	return arrayUnion{values: values}
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection path and id of a document path.
func Split(path string) (collection, id string, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", ErrInvalidPath
	}
	for _, s := range segments {
		if s == "" {
			return "", "", ErrInvalidPath
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// CollectionID is the last segment of a collection path.
func CollectionID(collection string) string {
	if i := strings.LastIndex(collection, "/"); i >= 0 {
		return collection[i+1:]
	}
	return collection
}
