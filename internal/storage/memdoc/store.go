package memdoc

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"stay_chat/internal/domain"
)

// Store is an in-process implementation of the document store contract:
// mutex-guarded maps with synchronous change fan-out. It backs STORE=memory
// dev mode and the unit tests.
type Store struct {
	mu   sync.Mutex
	docs map[string]*entry
	seq  int64
	subs map[int64]*subscription
	next int64
}

type entry struct {
	fields map[string]any
	ts     domain.Timestamp
}

type subscription struct {
	collection string
	filters    []domain.Filter
	handler    func([]domain.Document)

	mu     sync.Mutex
	closed bool
	seq    int64 // store sequence of the last delivered result set
}

func New() *Store {
	return &Store{
		docs: make(map[string]*entry),
		subs: make(map[int64]*subscription),
	}
}

func (s *Store) Get(ctx context.Context, path string) (domain.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return domain.Document{}, false, nil
	}
	return docOf(path, e), true, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	s.mu.Lock()
	s.apply(domain.WriteOp{Kind: domain.WriteSet, Path: path, Fields: fields, Merge: merge})
	targets := s.pending([]string{collectionOf(path)})
	s.mu.Unlock()

	s.dispatch(targets)
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection+"/"+id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, filters), nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filters []domain.Filter, onChange func([]domain.Document)) (domain.CancelFunc, error) {
	sub := &subscription{collection: collection, filters: filters, handler: onChange}

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	initial := s.queryLocked(collection, filters)
	seq := s.seq
	s.mu.Unlock()

	sub.deliver(initial, seq)

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) BatchWrite(ctx context.Context, ops []domain.WriteOp) error {
	if len(ops) > domain.MaxBatchOps {
		return fmt.Errorf("batch of %d exceeds %d ops", len(ops), domain.MaxBatchOps)
	}
	colls := make([]string, 0, 2)
	s.mu.Lock()
	for _, op := range ops {
		s.apply(op)
		if c := collectionOf(op.Path); !contains(colls, c) {
			colls = append(colls, c)
		}
	}
	targets := s.pending(colls)
	s.mu.Unlock()

	s.dispatch(targets)
	return nil
}

// ---- internals ----

// apply mutates one document under s.mu. Every write, deletes included,
// advances the store sequence; sets stamp it as the document's write time.
func (s *Store) apply(op domain.WriteOp) {
	s.seq++
	if op.Kind == domain.WriteDelete {
		delete(s.docs, op.Path)
		return
	}
	e, ok := s.docs[op.Path]
	if op.Merge && ok {
		for k, v := range op.Fields {
			e.fields[k] = v
		}
		e.ts = domain.Timestamp(s.seq)
		return
	}
	f := make(map[string]any, len(op.Fields))
	for k, v := range op.Fields {
		f[k] = v
	}
	s.docs[op.Path] = &entry{fields: f, ts: domain.Timestamp(s.seq)}
}

func (s *Store) queryLocked(collection string, filters []domain.Filter) []domain.Document {
	var out []domain.Document
	prefix := collection + "/"
	for path, e := range s.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		if !matches(e.fields, filters) {
			continue
		}
		out = append(out, docOf(path, e))
	}
	// map iteration order is random; keep results stable for callers that
	// compare snapshots
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type delivery struct {
	sub  *subscription
	docs []domain.Document
	seq  int64
}

// pending computes, under s.mu, the fresh result set for every subscription
// touching the written collections, stamped with the current store sequence.
func (s *Store) pending(colls []string) []delivery {
	var out []delivery
	for _, sub := range s.subs {
		if !contains(colls, sub.collection) {
			continue
		}
		out = append(out, delivery{sub: sub, docs: s.queryLocked(sub.collection, sub.filters), seq: s.seq})
	}
	return out
}

// dispatch runs outside s.mu so handlers may call back into the store.
func (s *Store) dispatch(targets []delivery) {
	for _, t := range targets {
		t.sub.deliver(t.docs, t.seq)
	}
}

// deliver hands one result set to the handler. Dispatch runs unlocked, so
// two deliveries can race here; the sequence stamp drops any result set older
// than one already delivered (a stale set must never overwrite a fresher one).
func (sub *subscription) deliver(docs []domain.Document, seq int64) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || seq < sub.seq {
		return
	}
	sub.seq = seq
	sub.handler(docs)
}

func docOf(path string, e *entry) domain.Document {
	f := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		f[k] = v
	}
	return domain.Document{
		Path:      path,
		ID:        path[strings.LastIndex(path, "/")+1:],
		Fields:    f,
		WriteTime: e.ts,
	}
}

func collectionOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

func matches(fields map[string]any, filters []domain.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Equals) {
			return false
		}
	}
	return true
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
