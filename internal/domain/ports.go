package domain

import "context"

// Timestamp is the store's opaque write clock: monotonically increasing,
// comparable, assigned by the store on every write. Zero means the store has
// not assigned one yet; unassigned values order lowest.
type Timestamp int64

// Document is one stored record. ID is the last path segment.
type Document struct {
	Path      string
	ID        string
	Fields    map[string]any
	WriteTime Timestamp
}

// Filter is an equality predicate on a top-level field. The store contract
// offers no composite ordering; all ordering happens in the core after
// retrieval.
type Filter struct {
	Field  string
	Equals any
}

type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteDelete
)

type WriteOp struct {
	Kind   WriteKind
	Path   string
	Fields map[string]any
	Merge  bool
}

// MaxBatchOps is the backing store's per-transaction ceiling. Callers MUST
// chunk larger write sets.
const MaxBatchOps = 400

// CancelFunc detaches a live subscription. It is safe to call more than once
// and guarantees no handler invocation after it returns.
type CancelFunc func()

// DocStore is the change-notifying document store the core is written
// against. Subscribe fires the handler once with the current result set and
// again on every change to the collection; delivery order across independent
// subscriptions carries no guarantee.
type DocStore interface {
	Get(ctx context.Context, path string) (Document, bool, error)
	Set(ctx context.Context, path string, fields map[string]any, merge bool) error
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Query(ctx context.Context, collection string, filters []Filter) ([]Document, error)
	Subscribe(ctx context.Context, collection string, filters []Filter, onChange func([]Document)) (CancelFunc, error)
	BatchWrite(ctx context.Context, ops []WriteOp) error
}

// Translation is a successful gateway response.
type Translation struct {
	Translated   string
	Provider     string
	Confidence   float64
	DetectedLang string
}

// Translator is the remote translation gateway, one stateless call per
// outbound message. Any error degrades to tagged fallback text at the caller;
// it never blocks delivery.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Translation, error)
}

// Persisted namespaces under the tenant-scoped root.
const (
	UsersCollection    = "users"
	StaffCollection    = "staff"
	RoomsCollection    = "public/rooms"
	MessagesCollection = "public/messages"
	ArchiveCollection  = "public/archived_messages"
)
