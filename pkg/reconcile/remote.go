package reconcile

import (
	"context"
	"time"

	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/observability"
	"github.com/taskdeck/taskgraph/pkg/store"
)

// hasPending reports whether an unresolved local mutation targets the
// entity. Callers hold e.mu.
func (e *Engine) hasPending(entityID string) bool {
	for _, m := range e.inflight {
		if m.entityID == entityID && m.state == statePending {
			return true
		}
	}
	return false
}

// tombstonedPair reports whether a deferred remote delete targets the pair,
// so Sync and remote merges do not resurrect an edge the user removed while
// its create was in flight. Callers hold e.mu.
func (e *Engine) tombstonedPair(from, to string) bool {
	for _, ts := range e.tombstones {
		if ts.d.From == from && ts.d.To == to {
			return true
		}
	}
	return false
}

// ApplyRemote merges one remote-origin change into the local graph,
// last writer wins per entity. Echoes of this session's own mutations are
// skipped, as are position changes for tasks with an unresolved local
// mutation or an active drag: the local value wins until that resolves,
// and the next Sync settles any divergence.
func (e *Engine) ApplyRemote(ctx context.Context, ev store.Event) {
	if ev.Origin == e.opts.SessionID {
		return
	}

	e.mu.Lock()
	var (
		merged     bool
		structural bool
	)
	switch ev.Kind {
	case store.EventDependencyCreated:
		if _, ok := e.graph.DependencyBetween(ev.From, ev.To); ok {
			break
		}
		if e.tombstonedPair(ev.From, ev.To) {
			break // locally deleted, remote delete still deferred
		}
		d := graph.Dependency{ID: ev.EdgeID, From: ev.From, To: ev.To}
		if err := e.graph.AddDependency(d); err != nil {
			e.log.Warn("remote edge violates local guard, skipping", "edge", ev.EdgeID, "err", err)
			break
		}
		merged, structural = true, true

	case store.EventDependencyDeleted:
		if e.hasPending(ev.EdgeID) {
			break
		}
		if err := e.graph.RemoveDependency(ev.EdgeID); err != nil {
			break // already gone locally
		}
		e.seq[ev.EdgeID]++
		merged, structural = true, true

	case store.EventPositionUpdated:
		if ev.Pos == nil || e.dragging[ev.TaskID] || e.hasPending(ev.TaskID) {
			break
		}
		if err := e.graph.SetPosition(ev.TaskID, *ev.Pos); err != nil {
			break // task unknown here
		}
		e.seq[ev.TaskID]++
		merged = true

	case store.EventPositionCleared:
		if e.dragging[ev.TaskID] || e.hasPending(ev.TaskID) {
			break
		}
		if err := e.graph.ClearPosition(ev.TaskID); err != nil {
			break
		}
		e.seq[ev.TaskID]++
		merged = true
	}
	auto := structural && e.shouldAutoLayout()
	e.mu.Unlock()

	if merged {
		observability.Engine().OnRemoteMerge(ctx, string(ev.Kind))
	}
	if auto {
		if err := e.Relayout(ctx); err != nil {
			e.log.Warn("auto-layout after remote merge failed", "err", err)
		}
	}
}

// Sync performs a full reconciliation against the remote store: edges and
// positions present there and missing here are merged in, local entities
// gone from the store are dropped. Entities with an unresolved local
// mutation or an active drag are left alone; the next Sync after those
// settle converges them. Sync is the correctness path, push events are
// the latency path.
func (e *Engine) Sync(ctx context.Context) error {
	deps, err := e.store.ListDependencies(ctx, e.opts.Scope)
	if err != nil {
		return err
	}
	positions, err := e.store.ListPositions(ctx, e.opts.Scope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	remoteEdges := make(map[string]store.DependencyRecord, len(deps))
	for _, r := range deps {
		remoteEdges[r.EdgeID] = r
	}

	for _, d := range e.graph.Snapshot().Dependencies {
		if _, ok := remoteEdges[d.ID]; ok || e.hasPending(d.ID) {
			continue
		}
		if err := e.graph.RemoveDependency(d.ID); err == nil {
			e.seq[d.ID]++
		}
	}
	for _, r := range deps {
		if _, ok := e.graph.Dependency(r.EdgeID); ok {
			continue
		}
		if _, ok := e.graph.DependencyBetween(r.From, r.To); ok {
			continue // locally created, confirmation pending
		}
		if e.tombstonedPair(r.From, r.To) {
			continue // locally deleted, remote delete still deferred
		}
		d := graph.Dependency{ID: r.EdgeID, From: r.From, To: r.To}
		if err := e.graph.AddDependency(d); err != nil {
			e.log.Warn("remote edge violates local guard, skipping", "edge", r.EdgeID, "err", err)
		}
	}

	remotePos := make(map[string]graph.Point, len(positions))
	for _, p := range positions {
		remotePos[p.TaskID] = p.Pos
	}
	for _, t := range e.graph.Snapshot().Tasks {
		if e.dragging[t.ID] || e.hasPending(t.ID) {
			continue
		}
		p, ok := remotePos[t.ID]
		switch {
		case ok && (t.Pos == nil || *t.Pos != p):
			if err := e.graph.SetPosition(t.ID, p); err == nil {
				e.seq[t.ID]++
			}
		case !ok && t.Pos != nil:
			if err := e.graph.ClearPosition(t.ID); err == nil {
				e.seq[t.ID]++
			}
		}
	}
	auto := e.needsInitialLayout()
	e.mu.Unlock()

	if auto {
		return e.Relayout(ctx)
	}
	return nil
}

// Run drives background reconciliation until ctx is cancelled. When the
// store can push changes, events are merged as they arrive and a periodic
// Sync backstops anything a dropped subscription missed; otherwise Run
// polls on the configured interval.
func (e *Engine) Run(ctx context.Context) error {
	w, canWatch := e.store.(store.Watcher)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	var events <-chan store.Event
	if canWatch {
		ch, err := w.Watch(ctx, e.opts.Scope)
		if err != nil {
			e.log.Warn("watch unavailable, falling back to polling", "err", err)
		} else {
			events = ch
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil // resubscribe on next tick
				continue
			}
			e.ApplyRemote(ctx, ev)
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				e.log.Warn("periodic sync failed", "err", err)
			}
			if canWatch && events == nil {
				if ch, err := w.Watch(ctx, e.opts.Scope); err == nil {
					events = ch
				}
			}
		}
	}
}
