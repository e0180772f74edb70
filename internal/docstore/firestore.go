package docstore

import (
	"context"
	"errors"
	"strings"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore implements Store on Cloud Firestore.
type Firestore struct {
	Client *gfs.Client
}

func NewFirestore(client *gfs.Client) *Firestore {
	return &Firestore{Client: client}
}

// OpenFirestore creates a client for projectID using application default
// credentials.
func OpenFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	client, err := gfs.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return NewFirestore(client), nil
}

func (f *Firestore) Close() error {
	if f.Client == nil {
		return nil
	}
	return f.Client.Close()
}

func (f *Firestore) Get(ctx context.Context, path string) (Document, error) {
	if _, _, err := Split(path); err != nil {
		return Document{}, err
	}
	snap, err := f.Client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return fromSnapshot(snap), nil
}

func (f *Firestore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	data := toFirestore(fields)
	var err error
	if o.merge {
		_, err = f.Client.Doc(path).Set(ctx, data, gfs.MergeAll)
	} else {
		_, err = f.Client.Doc(path).Set(ctx, data)
	}
	return err
}

func (f *Firestore) Update(ctx context.Context, path string, fields map[string]any) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	updates := make([]gfs.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, gfs.Update{Path: k, Value: toFirestoreValue(v)})
	}
	_, err := f.Client.Doc(path).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (f *Firestore) Delete(ctx context.Context, path string) error {
	if _, _, err := Split(path); err != nil {
		return err
	}
	_, err := f.Client.Doc(path).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (f *Firestore) Query(ctx context.Context, q Query) ([]Document, error) {
	it := f.build(q).Documents(ctx)
	defer it.Stop()

	var out []Document
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromSnapshot(snap))
	}
	return out, nil
}

func (f *Firestore) WatchDoc(ctx context.Context, path string) (<-chan DocSnapshot, error) {
	if _, _, err := Split(path); err != nil {
		return nil, err
	}
	it := f.Client.Doc(path).Snapshots(ctx)
	out := make(chan DocSnapshot)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil && status.Code(err) != codes.NotFound {
				return
			}
			next := DocSnapshot{Path: path}
			if snap != nil && snap.Exists() {
				next.Doc = fromSnapshot(snap)
				next.Exists = true
			}
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Firestore) WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error) {
	if q.Collection == "" {
		return nil, ErrInvalidPath
	}
	it := f.build(q).Snapshots(ctx)
	out := make(chan QuerySnapshot)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return
			}
			next := QuerySnapshot{ReadTime: qs.ReadTime}
			for _, change := range qs.Changes {
				next.Changes = append(next.Changes, Change{
					Kind: changeKind(change.Kind),
					Doc:  fromSnapshot(change.Doc),
				})
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				return
			}
			for _, snap := range docs {
				next.Docs = append(next.Docs, fromSnapshot(snap))
			}
			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Firestore) build(q Query) gfs.Query {
	var query gfs.Query
	if q.Group {
		query = f.Client.CollectionGroup(CollectionID(q.Collection)).Query
	} else {
		query = f.Client.Collection(q.Collection).Query
	}
	for _, filter := range q.Filters {
		query = query.Where(filter.Field, "==", filter.Value)
	}
	if q.OrderBy != "" {
		dir := gfs.Asc
		if q.Desc {
			dir = gfs.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func changeKind(kind gfs.DocumentChangeKind) ChangeKind {
	switch kind {
	case gfs.DocumentAdded:
		return ChangeAdded
	case gfs.DocumentRemoved:
		return ChangeRemoved
	}
	return ChangeModified
}

func fromSnapshot(snap *gfs.DocumentSnapshot) Document {
	doc := Document{
		ID:         snap.Ref.ID,
		Path:       relativePath(snap.Ref.Path),
		Fields:     snap.Data(),
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return doc
}

// relativePath strips the "projects/p/databases/d/documents/" prefix.
func relativePath(full string) string {
	const marker = "/documents/"
	if i := strings.Index(full, marker); i >= 0 {
		return full[i+len(marker):]
	}
	return full
}

func toFirestore(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	switch val := v.(type) {
	case serverTimestamp:
		return gfs.ServerTimestamp
	case arrayUnion:
		return gfs.ArrayUnion(val.values...)
	case map[string]any:
		return toFirestore(val)
	}
	return v
}
