package reconcile

import (
	"context"
	"time"

	errs "github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/layout"
	"github.com/taskdeck/taskgraph/pkg/observability"
)

// restorePosition puts a task back where it was before a failed position
// mutation. Callers hold e.mu.
func (e *Engine) restorePosition(taskID string, prev *graph.Point) {
	var err error
	if prev == nil {
		err = e.graph.ClearPosition(taskID)
	} else {
		err = e.graph.SetPosition(taskID, *prev)
	}
	if err != nil {
		e.log.Debug("rollback target already gone", "task", taskID)
	}
}

// shouldAutoLayout reports whether a confirmed structural change warrants
// a layout run. Callers hold e.mu. The one-time initial layout fires even
// with AutoLayout off; after that the option gates every run.
func (e *Engine) shouldAutoLayout() bool {
	if e.needsInitialLayout() {
		return true
	}
	return e.opts.AutoLayout && e.graph.EdgeCount() > 0
}

// Relayout computes fresh positions for the working set and persists
// them. When nothing is placed yet (bootstrap, or everything pooled), the
// whole graph is laid out; otherwise only the placed subgraph moves, so
// pooled tasks stay pooled.
//
// On a layout failure the previous positions are kept untouched. Position
// writes are independent per task: a partial persistence failure leaves
// the local layout intact and is retried by the next Sync.
func (e *Engine) Relayout(ctx context.Context) error {
	e.mu.Lock()
	snap := e.graph.VisibleSubgraph()
	if len(snap.Tasks) == 0 {
		snap = e.graph.Snapshot()
	}
	e.mu.Unlock()

	if len(snap.Tasks) == 0 {
		return nil
	}

	start := time.Now()
	res, err := layout.Compute(snap, e.opts.Layout)
	observability.Engine().OnLayoutComplete(ctx, len(snap.Tasks), time.Since(start), err)
	if err != nil {
		e.log.Error("layout failed, keeping previous positions", "err", err)
		return errs.Wrap(errs.ErrCodeInvalidGraph, err, "relayout")
	}

	e.mu.Lock()
	for id, p := range res.Positions {
		if err := e.graph.SetPosition(id, p); err != nil {
			continue // task removed while computing
		}
		e.seq[id]++
	}
	e.initialLayoutDone = true
	e.mu.Unlock()

	ctx = e.storeCtx(ctx)
	var firstErr error
	for id, p := range res.Positions {
		pos := p
		err := retryTransient(ctx, e.opts.Retry, func() error {
			return e.store.UpdateTaskPosition(ctx, e.opts.Scope, id, &pos)
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			e.log.Warn("position not persisted", "task", id, "err", err)
		}
	}
	return firstErr
}
