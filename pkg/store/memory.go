package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
)

// MemoryStore is an in-process Store for development and testing. It
// performs the same self/duplicate/cycle validation a production backend
// must, sharing the reachability search with the client-side guard so the
// two can never disagree.
//
// MemoryStore also implements [Watcher] with in-process fan-out, making it
// a complete stand-in for a push-capable backend in tests.
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]*memScope
}

type memScope struct {
	edges     map[string]DependencyRecord // edge ID -> record
	pairs     map[[2]string]string        // (from, to) -> edge ID
	positions map[string]graph.Point
	watchers  []chan Event
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]*memScope)}
}

func (m *MemoryStore) scope(id string) *memScope {
	sc, ok := m.scopes[id]
	if !ok {
		sc = &memScope{
			edges:     make(map[string]DependencyRecord),
			pairs:     make(map[[2]string]string),
			positions: make(map[string]graph.Point),
		}
		m.scopes[id] = sc
	}
	return sc
}

// ListDependencies returns every edge in the scope.
func (m *MemoryStore) ListDependencies(ctx context.Context, scopeID string) ([]DependencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "list dependencies")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scope(scopeID)
	out := make([]DependencyRecord, 0, len(sc.edges))
	for _, r := range sc.edges {
		out = append(out, r)
	}
	return out, nil
}

// ListPositions returns every saved position in the scope.
func (m *MemoryStore) ListPositions(ctx context.Context, scopeID string) ([]PositionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "list positions")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scope(scopeID)
	out := make([]PositionRecord, 0, len(sc.positions))
	for id, p := range sc.positions {
		out = append(out, PositionRecord{TaskID: id, Pos: p})
	}
	return out, nil
}

// CreateDependency validates and persists a new edge, returning its
// server-assigned ID. Validation mirrors the client guard exactly.
func (m *MemoryStore) CreateDependency(ctx context.Context, scopeID, fromTaskID, toTaskID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(errors.ErrCodePersistence, err, "create dependency")
	}
	if fromTaskID == "" || toTaskID == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "dependency endpoints must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scope(scopeID)

	if fromTaskID == toTaskID {
		return "", errors.New(errors.ErrCodeSelfDependency, "task %s cannot depend on itself", fromTaskID)
	}
	if _, dup := sc.pairs[[2]string{fromTaskID, toTaskID}]; dup {
		return "", errors.New(errors.ErrCodeDuplicateEdge, "dependency %s→%s already exists", fromTaskID, toTaskID)
	}
	children := make(map[string][]string, len(sc.edges))
	for _, r := range sc.edges {
		children[r.From] = append(children[r.From], r.To)
	}
	if graph.Reachable(toTaskID, fromTaskID, func(id string) []string { return children[id] }) {
		return "", errors.New(errors.ErrCodeCycleRejected, "dependency %s→%s would create a cycle", fromTaskID, toTaskID)
	}

	rec := DependencyRecord{EdgeID: uuid.NewString(), From: fromTaskID, To: toTaskID}
	sc.edges[rec.EdgeID] = rec
	sc.pairs[[2]string{rec.From, rec.To}] = rec.EdgeID
	sc.notify(Event{Kind: EventDependencyCreated, ScopeID: scopeID, EdgeID: rec.EdgeID, From: rec.From, To: rec.To, Origin: OriginFrom(ctx, "")})
	return rec.EdgeID, nil
}

// DeleteDependency removes an edge by ID.
func (m *MemoryStore) DeleteDependency(ctx context.Context, scopeID, edgeID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "delete dependency")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scope(scopeID)

	rec, ok := sc.edges[edgeID]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "dependency %s not found", edgeID)
	}
	delete(sc.edges, edgeID)
	delete(sc.pairs, [2]string{rec.From, rec.To})
	sc.notify(Event{Kind: EventDependencyDeleted, ScopeID: scopeID, EdgeID: edgeID, From: rec.From, To: rec.To, Origin: OriginFrom(ctx, "")})
	return nil
}

// UpdateTaskPosition saves or clears a task position.
func (m *MemoryStore) UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "update position")
	}
	if taskID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "task ID must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.scope(scopeID)

	if pos == nil {
		delete(sc.positions, taskID)
		sc.notify(Event{Kind: EventPositionCleared, ScopeID: scopeID, TaskID: taskID, Origin: OriginFrom(ctx, "")})
		return nil
	}
	sc.positions[taskID] = *pos
	p := *pos
	sc.notify(Event{Kind: EventPositionUpdated, ScopeID: scopeID, TaskID: taskID, Pos: &p, Origin: OriginFrom(ctx, "")})
	return nil
}

// Watch returns a channel of change events for the scope. The channel is
// closed when ctx is cancelled. Slow consumers drop events rather than
// blocking writers; poll-based refresh remains the correctness path.
func (m *MemoryStore) Watch(ctx context.Context, scopeID string) (<-chan Event, error) {
	ch := make(chan Event, 64)

	m.mu.Lock()
	sc := m.scope(scopeID)
	sc.watchers = append(sc.watchers, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range sc.watchers {
			if w == ch {
				sc.watchers = append(sc.watchers[:i], sc.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// notify fans an event out to all watchers. Callers hold m.mu.
func (sc *memScope) notify(ev Event) {
	for _, w := range sc.watchers {
		select {
		case w <- ev:
		default:
		}
	}
}

// Ensure MemoryStore satisfies both contracts.
var (
	_ Store   = (*MemoryStore)(nil)
	_ Watcher = (*MemoryStore)(nil)
)
