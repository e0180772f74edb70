package docstore

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store used for local development and tests. It
// implements the same listener semantics as the Firestore backend: watches
// emit the current state first and then one snapshot per effective change.
type Memory struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	docs       map[string]Document
	lastStamp  time.Time
	nextID     int
	docWatch   map[int]*docWatcher
	queryWatch map[int]*queryWatcher
}

type docWatcher struct {
	path string
	out  *pump[DocSnapshot]
}

type queryWatcher struct {
	query Query
	last  map[string]Document
	out   *pump[QuerySnapshot]
}

func NewMemory(clk clockwork.Clock) *Memory {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Memory{
		clock:      clk,
		docs:       make(map[string]Document),
		docWatch:   make(map[int]*docWatcher),
		queryWatch: make(map[int]*queryWatcher),
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if _, _, err := Split(path); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memory) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return m.write(path, func(existing Document, found bool) (map[string]any, error) {
		if o.merge && found {
			return existing.Fields, nil
		}
		return map[string]any{}, nil
	}, fields)
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.write(path, func(existing Document, found bool) (map[string]any, error) {
		if !found {
			return nil, ErrNotFound
		}
		return existing.Fields, nil
	}, fields)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := Split(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; !ok {
		return nil
	}
	delete(m.docs, path)
	m.notifyLocked(path)
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runLocked(q), nil
}

func (m *Memory) WatchDoc(ctx context.Context, path string) (<-chan DocSnapshot, error) {
	if _, _, err := Split(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := newPump[DocSnapshot](ctx)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.docWatch[id] = &docWatcher{path: path, out: out}
	out.push(m.docSnapshotLocked(path))
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		delete(m.docWatch, id)
		m.mu.Unlock()
	})
	return out.ch, nil
}

func (m *Memory) WatchQuery(ctx context.Context, q Query) (<-chan QuerySnapshot, error) {
	if q.Collection == "" {
		return nil, ErrInvalidPath
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := newPump[QuerySnapshot](ctx)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	w := &queryWatcher{query: q, last: map[string]Document{}, out: out}
	m.queryWatch[id] = w
	snap, _ := w.diff(m.runLocked(q), m.clock.Now())
	out.push(snap)
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		delete(m.queryWatch, id)
		m.mu.Unlock()
	})
	return out.ch, nil
}

func (m *Memory) write(path string, base func(Document, bool) (map[string]any, error), fields map[string]any) error {
	_, id, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.docs[path]
	start, err := base(existing, found)
	if err != nil {
		return err
	}
	now := m.stampLocked()
	next := copyFields(start)
	for k, v := range fields {
		next[k] = resolve(v, next[k], now)
	}

	if found && valuesEqual(existing.Fields, next) {
		return nil
	}
	doc := Document{Path: path, ID: id, Fields: next, CreateTime: now, UpdateTime: now}
	if found {
		doc.CreateTime = existing.CreateTime
	}
	m.docs[path] = doc
	m.notifyLocked(path)
	return nil
}

// stampLocked returns a strictly increasing write time so UpdateTime always
// identifies a single revision, even when the clock does not move.
func (m *Memory) stampLocked() time.Time {
	now := m.clock.Now()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = now
	return now
}

func (m *Memory) notifyLocked(path string) {
	for _, w := range m.docWatch {
		if w.path == path {
			w.out.push(m.docSnapshotLocked(path))
		}
	}
	now := m.clock.Now()
	for _, w := range m.queryWatch {
		if !w.query.coversPath(path) {
			continue
		}
		if snap, changed := w.diff(m.runLocked(w.query), now); changed {
			w.out.push(snap)
		}
	}
}

func (m *Memory) docSnapshotLocked(path string) DocSnapshot {
	doc, ok := m.docs[path]
	if !ok {
		return DocSnapshot{Path: path}
	}
	return DocSnapshot{Path: path, Doc: copyDoc(doc), Exists: true}
}

func (m *Memory) runLocked(q Query) []Document {
	var out []Document
	for path, doc := range m.docs {
		if !q.coversPath(path) || !q.matches(doc) {
			continue
		}
		out = append(out, copyDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].Path < out[j].Path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) coversPath(path string) bool {
	collection, _, err := Split(path)
	if err != nil {
		return false
	}
	if q.Group {
		return CollectionID(collection) == CollectionID(q.Collection)
	}
	return collection == q.Collection
}

func (q Query) matches(doc Document) bool {
	for _, f := range q.Filters {
		v, ok := doc.Fields[f.Field]
		if !ok || !valuesEqual(v, f.Value) {
			return false
		}
	}
	if q.OrderBy != "" {
		if _, ok := doc.Fields[q.OrderBy]; !ok {
			return false
		}
	}
	return true
}

func (w *queryWatcher) diff(docs []Document, now time.Time) (QuerySnapshot, bool) {
	snap := QuerySnapshot{Docs: docs, ReadTime: now}
	current := make(map[string]Document, len(docs))
	for _, doc := range docs {
		current[doc.Path] = doc
		prev, ok := w.last[doc.Path]
		switch {
		case !ok:
			snap.Changes = append(snap.Changes, Change{Kind: ChangeAdded, Doc: doc})
		case !prev.UpdateTime.Equal(doc.UpdateTime):
			snap.Changes = append(snap.Changes, Change{Kind: ChangeModified, Doc: doc})
		}
	}
	var removed []string
	for path := range w.last {
		if _, ok := current[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		snap.Changes = append(snap.Changes, Change{Kind: ChangeRemoved, Doc: w.last[path]})
	}
	w.last = current
	return snap, len(snap.Changes) > 0
}

func resolve(v, existing any, now time.Time) any {
	switch val := v.(type) {
	case serverTimestamp:
		return now
	case arrayUnion:
		merged := toSlice(existing)
		for _, item := range val.values {
			present := false
			for _, have := range merged {
				if valuesEqual(have, item) {
					present = true
					break
				}
			}
			if !present {
				merged = append(merged, item)
			}
		}
		if merged == nil {
			merged = []any{}
		}
		return merged
	case map[string]any:
		prev, _ := existing.(map[string]any)
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = resolve(inner, prev[k], now)
		}
		return out
	}
	return copyValue(v)
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return append([]any(nil), s...)
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	}
	return nil
}

func copyDoc(doc Document) Document {
	doc.Fields = copyFields(doc.Fields)
	return doc
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

func valuesEqual(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if sa := toSlice(a); sa != nil {
		sb := toSlice(b)
		if sb == nil || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !valuesEqual(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := a.(map[string]any); ok {
		mb, ok := b.(map[string]any)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !valuesEqual(va, vb) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareValues(a, b any) int {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return 0
}

// pump decouples writers from slow listeners: push never blocks, and a
// goroutine forwards queued values in order until ctx is done.
type pump[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	ch     chan T
}

func newPump[T any](ctx context.Context) *pump[T] {
	p := &pump[T]{notify: make(chan struct{}, 1), ch: make(chan T)}
	go p.run(ctx)
	return p
}

func (p *pump[T]) push(v T) {
	p.mu.Lock()
	p.queue = append(p.queue, v)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pump[T]) run(ctx context.Context) {
	defer close(p.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			next := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			select {
			case p.ch <- next:
			case <-ctx.Done():
				return
			}
		}
	}
}
