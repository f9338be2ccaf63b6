package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	errs "github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/layout"
	"github.com/taskdeck/taskgraph/pkg/observability"
	"github.com/taskdeck/taskgraph/pkg/store"
)

// Options configures an Engine.
type Options struct {
	// Scope identifies the graph (project/board) this session edits.
	Scope string

	// SessionID tags outgoing mutations so remote-origin events that echo
	// this session's own changes can be skipped. Defaults to a random ID.
	SessionID string

	// AutoLayout re-runs layout whenever the remote-confirmed edge count
	// changes. The one-time initial layout (edges present, no saved
	// positions) runs regardless of this flag; manual Relayout always runs.
	AutoLayout bool

	// Layout holds the configuration for automatic and manual layout runs.
	Layout layout.Config

	// Retry bounds backoff on transient persistence failures.
	Retry Policy

	// PollInterval is the background refresh period used when the store
	// has no push channel, and the fallback safety net when it does.
	// Defaults to 30 seconds.
	PollInterval time.Duration

	// OnReject is invoked (outside the engine lock) when a mutation is
	// rolled back after a remote rejection or exhausted retries.
	// Default: log at warn level.
	OnReject func(op, entityID string, err error)

	// Logger defaults to a discard logger.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.Retry = o.Retry.withDefaults()
	return o
}

// Engine reconciles a session's Graph Store with the authoritative remote
// store: it applies mutations optimistically, persists them asynchronously,
// rolls back on rejection, and merges remote-origin changes last-writer-wins
// per entity.
//
// The engine owns its Graph Store; all access goes through Engine methods.
// Mutations are applied in request order under one mutex, while persistence
// completions re-enter through the same mutex and are gated by per-entity
// sequence numbers, so an old confirmation can never overwrite newer local
// state.
type Engine struct {
	mu    sync.Mutex
	opts  Options
	store store.Store
	graph *graph.Store
	log   *log.Logger

	seq      map[string]uint64    // entity ID -> local sequence number
	inflight map[string]*mutation // correlation ID -> mutation

	dragging map[string]bool // tasks mid-drag; remote position merges skip these

	// tombstones holds edges disconnected while their create was still in
	// flight, keyed by the client-generated edge ID. The remote delete is
	// deferred until the create resolves and the server-assigned ID is
	// known; until then Sync and remote merges must not re-add the pair.
	tombstones map[string]tombstone

	initialLayoutDone bool
}

// NewEngine creates an engine for one session over the given store.
// Call Bootstrap to load remote state before serving interaction.
func NewEngine(s store.Store, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.Scope == "" {
		return nil, errs.New(errs.ErrCodeInvalidInput, "scope is required")
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "layout config")
	}
	return &Engine{
		opts:       opts,
		store:      s,
		graph:      graph.NewStore(),
		log:        opts.Logger.With("scope", opts.Scope),
		seq:        make(map[string]uint64),
		inflight:   make(map[string]*mutation),
		dragging:   make(map[string]bool),
		tombstones: make(map[string]tombstone),
	}, nil
}

// Snapshot returns an immutable view of the session's graph.
func (e *Engine) Snapshot() graph.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Snapshot()
}

// VisibleSubgraph returns the placed portion of the graph.
func (e *Engine) VisibleSubgraph() graph.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.VisibleSubgraph()
}

// Pooled returns the tasks currently in the pool.
func (e *Engine) Pooled() []graph.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Pooled()
}

// SeedTask loads or updates a task from the external task backend. Task
// creation and deletion belong to the product layer; the engine only owns
// edges and positions.
func (e *Engine) SeedTask(t graph.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.UpsertTask(t)
}

// ForgetTask handles an external task deletion: the task and every edge
// touching it leave the graph, and any in-flight mutation targeting those
// entities becomes a stale no-op via the sequence guard.
func (e *Engine) ForgetTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.graph.EdgesTouching(id) {
		e.seq[d.ID]++
	}
	e.seq[id]++
	return e.graph.RemoveTask(id)
}

// Bootstrap loads the scope's edges and positions from the remote store
// into the Graph Store. Edges referencing tasks that have not been seeded
// are skipped with a warning and picked up by a later Sync. If the loaded
// graph has edges but no saved positions, the one-time initial layout runs.
func (e *Engine) Bootstrap(ctx context.Context) error {
	deps, err := e.store.ListDependencies(ctx, e.opts.Scope)
	if err != nil {
		return err
	}
	positions, err := e.store.ListPositions(ctx, e.opts.Scope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, r := range deps {
		if err := e.graph.AddDependency(graph.Dependency{ID: r.EdgeID, From: r.From, To: r.To}); err != nil {
			e.log.Warn("skipping remote edge", "edge", r.EdgeID, "err", err)
		}
	}
	for _, p := range positions {
		if err := e.graph.SetPosition(p.TaskID, p.Pos); err != nil {
			e.log.Debug("position for unknown task", "task", p.TaskID)
		}
	}
	needInitial := e.needsInitialLayout()
	e.mu.Unlock()

	if needInitial {
		return e.Relayout(ctx)
	}
	return nil
}

// needsInitialLayout reports whether the one-time bootstrap layout should
// run: edges exist but nothing is placed. Callers hold e.mu.
func (e *Engine) needsInitialLayout() bool {
	if e.initialLayoutDone || e.graph.EdgeCount() == 0 {
		return false
	}
	for _, t := range e.graph.Snapshot().Tasks {
		if t.Placed() {
			return false
		}
	}
	return true
}

// Connect optimistically adds a dependency edge (from = prerequisite,
// to = dependent) and persists it asynchronously. The returned edge ID is
// client-generated; once the store confirms, it is replaced in place by
// the server-assigned ID.
//
// Local guard rejections (self, duplicate, cycle) return immediately with
// the matching error code and leave the graph unchanged. A remote
// rejection later rolls the edge back and reports through OnReject.
func (e *Engine) Connect(ctx context.Context, from, to string) (string, error) {
	e.mu.Lock()
	d := graph.Dependency{ID: uuid.NewString(), From: from, To: to}
	if err := e.graph.AddDependency(d); err != nil {
		e.mu.Unlock()
		return "", codedError(err, from, to)
	}
	m := e.track(OpConnect, d.ID)
	e.mu.Unlock()

	observability.Engine().OnMutationApplied(ctx, OpConnect, d.ID)
	go e.persistConnect(ctx, m, d)
	return d.ID, nil
}

// storeCtx tags outgoing store calls with this session's ID so published
// change events name it as their origin.
func (e *Engine) storeCtx(ctx context.Context) context.Context {
	return store.WithOrigin(ctx, e.opts.SessionID)
}

func (e *Engine) persistConnect(ctx context.Context, m *mutation, d graph.Dependency) {
	ctx = e.storeCtx(ctx)
	var remoteID string
	err := retryTransient(ctx, e.opts.Retry, func() error {
		id, err := e.store.CreateDependency(ctx, e.opts.Scope, d.From, d.To)
		if err == nil {
			remoteID = id
		}
		return err
	})
	if err != nil {
		e.reject(ctx, m, err, func() {
			if rmErr := e.graph.RemoveDependency(d.ID); rmErr != nil {
				e.log.Debug("rollback target already gone", "edge", d.ID)
			}
		})
		e.resolveTombstone(ctx, d.ID, "")
		return
	}
	e.confirm(ctx, m, func() {
		if err := e.graph.ReplaceDependencyID(d.ID, remoteID); err != nil {
			e.log.Debug("confirmed edge no longer present", "edge", d.ID)
		}
	})
	e.resolveTombstone(ctx, d.ID, remoteID)
}

// Disconnect optimistically removes the edge and persists the deletion.
// A NOT_FOUND from the store means another session already deleted it,
// which is the outcome the caller wanted; it confirms rather than rolls
// back.
func (e *Engine) Disconnect(ctx context.Context, edgeID string) error {
	e.mu.Lock()
	d, ok := e.graph.Dependency(edgeID)
	if !ok {
		e.mu.Unlock()
		return errs.New(errs.ErrCodeStaleEntity, "edge %s not present", edgeID)
	}
	if err := e.graph.RemoveDependency(edgeID); err != nil {
		e.mu.Unlock()
		return err
	}
	pending := e.pendingConnect(edgeID)
	m := e.track(OpDisconnect, edgeID)
	if pending {
		// The create for this edge has not resolved yet, so the store only
		// knows it under an ID we do not have. Deleting by the temp ID
		// would miss and the create would land anyway; defer the delete
		// until the create resolves with the server-assigned ID.
		e.tombstones[edgeID] = tombstone{m: m, d: d}
		e.mu.Unlock()
		observability.Engine().OnMutationApplied(ctx, OpDisconnect, edgeID)
		return nil
	}
	e.mu.Unlock()

	observability.Engine().OnMutationApplied(ctx, OpDisconnect, edgeID)
	go e.persistDisconnect(ctx, m, d)
	return nil
}

// pendingConnect reports whether the edge's create is still in flight.
// Callers hold e.mu.
func (e *Engine) pendingConnect(edgeID string) bool {
	for _, m := range e.inflight {
		if m.entityID == edgeID && m.op == OpConnect && m.state == statePending {
			return true
		}
	}
	return false
}

// resolveTombstone completes a disconnect that was deferred behind its
// edge's in-flight create. remoteID is the server-assigned ID when the
// create landed, or empty when it was rejected - in which case there is
// nothing remote to delete and the disconnect confirms immediately. The
// tombstone stays in the map until the delete resolves so Sync and remote
// merges keep skipping the pair.
func (e *Engine) resolveTombstone(ctx context.Context, edgeID, remoteID string) {
	e.mu.Lock()
	ts, ok := e.tombstones[edgeID]
	e.mu.Unlock()
	if !ok {
		return
	}
	if remoteID == "" {
		e.clearTombstone(edgeID)
		e.confirm(ctx, ts.m, nil)
		return
	}
	err := retryTransient(ctx, e.opts.Retry, func() error {
		return e.store.DeleteDependency(ctx, e.opts.Scope, remoteID)
	})
	e.clearTombstone(edgeID)
	if err != nil && !errs.Is(err, errs.ErrCodeNotFound) {
		e.reject(ctx, ts.m, err, func() {
			d := ts.d
			d.ID = remoteID
			if addErr := e.graph.AddDependency(d); addErr != nil {
				e.log.Warn("could not restore edge after failed delete", "edge", remoteID, "err", addErr)
			}
		})
		return
	}
	e.confirm(ctx, ts.m, nil)
}

func (e *Engine) clearTombstone(edgeID string) {
	e.mu.Lock()
	delete(e.tombstones, edgeID)
	e.mu.Unlock()
}

func (e *Engine) persistDisconnect(ctx context.Context, m *mutation, d graph.Dependency) {
	ctx = e.storeCtx(ctx)
	err := retryTransient(ctx, e.opts.Retry, func() error {
		return e.store.DeleteDependency(ctx, e.opts.Scope, d.ID)
	})
	if err != nil && !errs.Is(err, errs.ErrCodeNotFound) {
		e.reject(ctx, m, err, func() {
			if addErr := e.graph.AddDependency(d); addErr != nil {
				e.log.Warn("could not restore edge after failed delete", "edge", d.ID, "err", addErr)
			}
		})
		return
	}
	e.confirm(ctx, m, nil)
}

// Place assigns a position to a task (pool → placed when it had none) and
// persists it. If dropTargetID names another task, the drop also requests
// an edge through the normal guarded path, with the fixed direction:
// the dropped task becomes the dependent, the drop target the
// prerequisite.
func (e *Engine) Place(ctx context.Context, taskID string, pos graph.Point, dropTargetID string) error {
	e.mu.Lock()
	prev, ok := e.graph.Task(taskID)
	if !ok {
		e.mu.Unlock()
		return errs.New(errs.ErrCodeStaleEntity, "task %s not present", taskID)
	}
	if err := e.graph.SetPosition(taskID, pos); err != nil {
		e.mu.Unlock()
		return err
	}
	m := e.track(OpPlace, taskID)
	e.mu.Unlock()

	observability.Engine().OnMutationApplied(ctx, OpPlace, taskID)
	go e.persistPosition(ctx, m, taskID, &pos, prev.Pos)

	if dropTargetID != "" && dropTargetID != taskID {
		if _, err := e.Connect(ctx, dropTargetID, taskID); err != nil {
			// The placement stands even when the implied edge is refused.
			return err
		}
	}
	return nil
}

// Unplace clears the task's position, moving it back to the pool. Edges
// touching the task are kept.
func (e *Engine) Unplace(ctx context.Context, taskID string) error {
	e.mu.Lock()
	prev, ok := e.graph.Task(taskID)
	if !ok {
		e.mu.Unlock()
		return errs.New(errs.ErrCodeStaleEntity, "task %s not present", taskID)
	}
	if err := e.graph.ClearPosition(taskID); err != nil {
		e.mu.Unlock()
		return err
	}
	m := e.track(OpUnplace, taskID)
	e.mu.Unlock()

	observability.Engine().OnMutationApplied(ctx, OpUnplace, taskID)
	go e.persistPosition(ctx, m, taskID, nil, prev.Pos)
	return nil
}

func (e *Engine) persistPosition(ctx context.Context, m *mutation, taskID string, pos, prev *graph.Point) {
	ctx = e.storeCtx(ctx)
	err := retryTransient(ctx, e.opts.Retry, func() error {
		return e.store.UpdateTaskPosition(ctx, e.opts.Scope, taskID, pos)
	})
	if err != nil {
		e.reject(ctx, m, err, func() {
			e.restorePosition(taskID, prev)
		})
		return
	}
	e.confirm(ctx, m, nil)
}

// DragTo updates a task's position locally during an interactive drag.
// Nothing is persisted until EndDrag, bounding write volume to one store
// call per completed drag instead of one per pointer event.
func (e *Engine) DragTo(taskID string, pos graph.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.SetPosition(taskID, pos); err != nil {
		return errs.New(errs.ErrCodeStaleEntity, "task %s not present", taskID)
	}
	e.seq[taskID]++
	e.dragging[taskID] = true
	return nil
}

// EndDrag persists the task's current position, completing a drag started
// with DragTo.
func (e *Engine) EndDrag(ctx context.Context, taskID string) error {
	e.mu.Lock()
	t, ok := e.graph.Task(taskID)
	if !ok || t.Pos == nil {
		delete(e.dragging, taskID)
		e.mu.Unlock()
		return errs.New(errs.ErrCodeStaleEntity, "task %s not present or pooled", taskID)
	}
	delete(e.dragging, taskID)
	pos := *t.Pos
	m := e.track(OpPlace, taskID)
	e.mu.Unlock()

	observability.Engine().OnMutationApplied(ctx, OpPlace, taskID)
	// prev == current: a failed write keeps the dragged position locally
	// and the periodic sync retries it.
	go e.persistPosition(ctx, m, taskID, &pos, &pos)
	return nil
}

// track registers a pending mutation for the entity and bumps its
// sequence number. Callers hold e.mu.
func (e *Engine) track(op, entityID string) *mutation {
	e.seq[entityID]++
	m := &mutation{
		id:       uuid.NewString(),
		op:       op,
		entityID: entityID,
		seq:      e.seq[entityID],
		state:    statePending,
		started:  time.Now(),
	}
	e.inflight[m.id] = m
	return m
}

// confirm resolves a pending mutation as Confirmed. The apply callback
// (server-assigned ID back-fill, edge count bookkeeping) runs under the
// lock only if the entity's sequence still matches the mutation's: a
// newer local mutation or a local delete makes the confirmation a stale
// no-op.
func (e *Engine) confirm(ctx context.Context, m *mutation, apply func()) {
	e.mu.Lock()
	delete(e.inflight, m.id)
	if m.state != statePending {
		e.mu.Unlock()
		return
	}
	m.state = stateConfirmed
	stale := e.seq[m.entityID] != m.seq
	if !stale && apply != nil {
		apply()
	}
	structural := m.op == OpConnect || m.op == OpDisconnect
	auto := !stale && structural && e.shouldAutoLayout()
	e.mu.Unlock()

	observability.Engine().OnMutationConfirmed(ctx, m.op, m.entityID, time.Since(m.started))
	if stale {
		e.log.Debug("stale confirmation ignored", "op", m.op, "entity", m.entityID)
	}
	if auto {
		if err := e.Relayout(ctx); err != nil {
			e.log.Warn("auto-layout failed", "err", err)
		}
	}
}

// reject resolves a pending mutation as RolledBack, restoring the
// pre-mutation state unless a newer local mutation already superseded it.
func (e *Engine) reject(ctx context.Context, m *mutation, cause error, rollback func()) {
	e.mu.Lock()
	delete(e.inflight, m.id)
	if m.state != statePending {
		e.mu.Unlock()
		return
	}
	m.state = stateRolledBack
	stale := e.seq[m.entityID] != m.seq
	if !stale && rollback != nil {
		e.seq[m.entityID]++
		rollback()
	}
	e.mu.Unlock()

	observability.Engine().OnMutationRolledBack(ctx, m.op, m.entityID, cause)
	e.log.Warn("mutation rolled back", "op", m.op, "entity", m.entityID, "err", cause)
	if e.opts.OnReject != nil {
		e.opts.OnReject(m.op, m.entityID, cause)
	}
}

// PendingCount reports the number of unresolved in-flight mutations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// codedError maps the graph store's sentinel rejections onto the shared
// error codes, so a local guard decision and a remote Conflict are one
// tagged result for callers.
func codedError(err error, from, to string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, graph.ErrSelfDependency):
		return errs.Wrap(errs.ErrCodeSelfDependency, err, "edge %s→%s", from, to)
	case errors.Is(err, graph.ErrDuplicateEdge):
		return errs.Wrap(errs.ErrCodeDuplicateEdge, err, "edge %s→%s", from, to)
	case errors.Is(err, graph.ErrCycle):
		return errs.Wrap(errs.ErrCodeCycleRejected, err, "edge %s→%s", from, to)
	case errors.Is(err, graph.ErrUnknownTask):
		return errs.Wrap(errs.ErrCodeStaleEntity, err, "edge %s→%s", from, to)
	default:
		return err
	}
}
