package redisdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"stay_chat/internal/domain"
)

// Store implements the document store contract on redis. Documents are JSON
// envelopes under {root}:doc:{path}, collection membership lives in a set per
// collection, and change notification rides pub/sub: every write publishes to
// the written collection's channel and each subscriber re-runs its query.
type Store struct {
	c    *redis.Client
	root string
}

func New(addr, pass string, db int, root string) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}), root)
}

// NewWithClient wires an existing client (tests use miniredis here).
func NewWithClient(c *redis.Client, root string) *Store {
	if root == "" {
		root = "staychat"
	}
	return &Store{c: c, root: root}
}

type envelope struct {
	TS     int64          `json:"ts"`
	Fields map[string]any `json:"fields"`
}

func (s *Store) docKey(path string) string        { return s.root + ":doc:" + path }
func (s *Store) idxKey(collection string) string  { return s.root + ":idx:" + collection }
func (s *Store) chgChan(collection string) string { return s.root + ":chg:" + collection }
func (s *Store) seqKey() string                   { return s.root + ":seq" }

func (s *Store) Get(ctx context.Context, path string) (domain.Document, bool, error) {
	b, err := s.c.Get(ctx, s.docKey(path)).Bytes()
	if err == redis.Nil {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, err
	}
	d, err := decode(path, b)
	if err != nil {
		return domain.Document{}, false, err
	}
	return d, true, nil
}

func (s *Store) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	return s.BatchWrite(ctx, []domain.WriteOp{{Kind: domain.WriteSet, Path: path, Fields: fields, Merge: merge}})
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection+"/"+id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	ids, err := s.c.SMembers(ctx, s.idxKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection + "/" + id)
	}
	vals, err := s.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without a document; treat as deleted
		}
		d, err := decode(collection+"/"+ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		if matches(d.Fields, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filters []domain.Filter, onChange func([]domain.Document)) (domain.CancelFunc, error) {
	ps := s.c.Subscribe(ctx, s.chgChan(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &subscription{handler: onChange}

	emit := func() {
		docs, err := s.Query(ctx, collection, filters)
		if err != nil {
			// the stream goes quiet on listener failure; no auto-resubscribe
			log.Error().Err(err).Str("collection", collection).Msg("subscription query failed")
			return
		}
		sub.deliver(docs)
	}

	go func() {
		emit()
		for range ps.Channel() {
			emit()
		}
	}()

	cancel := func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		_ = ps.Close()
	}
	return cancel, nil
}

func (s *Store) BatchWrite(ctx context.Context, ops []domain.WriteOp) error {
	if len(ops) > domain.MaxBatchOps {
		return fmt.Errorf("batch of %d exceeds %d ops", len(ops), domain.MaxBatchOps)
	}

	sets := 0
	for _, op := range ops {
		if op.Kind == domain.WriteSet {
			sets++
		}
	}
	// reserve a contiguous run of write timestamps for the batch
	var first int64
	if sets > 0 {
		end, err := s.c.IncrBy(ctx, s.seqKey(), int64(sets)).Result()
		if err != nil {
			return err
		}
		first = end - int64(sets) + 1
	}

	// merge reads happen before the transaction; archive writes merge
	// identical fields, so the read-modify-write race is benign
	merged := make(map[int]map[string]any)
	for i, op := range ops {
		if op.Kind != domain.WriteSet || !op.Merge {
			continue
		}
		prev, ok, err := s.Get(ctx, op.Path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		f := prev.Fields
		for k, v := range op.Fields {
			f[k] = v
		}
		merged[i] = f
	}

	pipe := s.c.TxPipeline()
	colls := make([]string, 0, 2)
	ts := first
	for i, op := range ops {
		coll, id := split(op.Path)
		if !contains(colls, coll) {
			colls = append(colls, coll)
		}
		switch op.Kind {
		case domain.WriteSet:
			fields := op.Fields
			if f, ok := merged[i]; ok {
				fields = f
			}
			b, err := json.Marshal(envelope{TS: ts, Fields: fields})
			if err != nil {
				return err
			}
			ts++
			pipe.Set(ctx, s.docKey(op.Path), b, 0)
			pipe.SAdd(ctx, s.idxKey(coll), id)
		case domain.WriteDelete:
			pipe.Del(ctx, s.docKey(op.Path))
			pipe.SRem(ctx, s.idxKey(coll), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	for _, coll := range colls {
		if err := s.c.Publish(ctx, s.chgChan(coll), "1").Err(); err != nil {
			return err
		}
	}
	return nil
}

// ---- internals ----

type subscription struct {
	handler func([]domain.Document)
	mu      sync.Mutex
	closed  bool
}

func (sub *subscription) deliver(docs []domain.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.handler(docs)
}

func decode(path string, b []byte) (domain.Document, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return domain.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	_, id := split(path)
	return domain.Document{
		Path:      path,
		ID:        id,
		Fields:    env.Fields,
		WriteTime: domain.Timestamp(env.TS),
	}, nil
}

func split(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// matches applies equality filters. Values coming back from JSON are strings,
// bools and float64s; string comparison covers every filter the services use.
func matches(fields map[string]any, filters []domain.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		if sv, ok1 := v.(string); ok1 {
			if se, ok2 := f.Equals.(string); !ok2 || sv != se {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(v, f.Equals) {
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
