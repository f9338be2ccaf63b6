package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/store"
)

var fastRetry = Policy{Attempts: 3, InitialDelay: time.Millisecond}

func newTestEngine(t *testing.T, s store.Store, opts Options) *Engine {
	t.Helper()
	if opts.Scope == "" {
		opts.Scope = "scope"
	}
	if opts.Retry == (Policy{}) {
		opts.Retry = fastRetry
	}
	e, err := NewEngine(s, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func seedTasks(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		if err := e.SeedTask(graph.Task{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("SeedTask(%s): %v", id, err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitSettled(t *testing.T, e *Engine) {
	t.Helper()
	waitFor(t, func() bool { return e.PendingCount() == 0 })
}

// scriptedStore wraps a MemoryStore and pops one injected error per
// mutation call before delegating.
type scriptedStore struct {
	store.Store

	mu         sync.Mutex
	createErrs []error
	posErrs    []error
	posCalls   int
}

func (s *scriptedStore) pop(errs *[]error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *scriptedStore) CreateDependency(ctx context.Context, scopeID, from, to string) (string, error) {
	if err := s.pop(&s.createErrs); err != nil {
		return "", err
	}
	return s.Store.CreateDependency(ctx, scopeID, from, to)
}

func (s *scriptedStore) UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error {
	s.mu.Lock()
	s.posCalls++
	s.mu.Unlock()
	if err := s.pop(&s.posErrs); err != nil {
		return err
	}
	return s.Store.UpdateTaskPosition(ctx, scopeID, taskID, pos)
}

func (s *scriptedStore) positionCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posCalls
}

func TestConnect_ConfirmAdoptsServerID(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b")

	tempID, err := e.Connect(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Optimistic: visible before the store confirms.
	if got := len(e.Snapshot().Dependencies); got != 1 {
		t.Fatalf("dependencies after Connect = %d, want 1", got)
	}
	waitSettled(t, e)

	recs, err := ms.ListDependencies(ctx, "scope")
	if err != nil {
		t.Fatalf("ListDependencies: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("persisted edges = %d, want 1", len(recs))
	}
	deps := e.Snapshot().Dependencies
	if deps[0].ID != recs[0].EdgeID {
		t.Errorf("local edge ID = %s, want server ID %s", deps[0].ID, recs[0].EdgeID)
	}
	if deps[0].ID == tempID {
		t.Error("client-generated ID survived confirmation")
	}
}

func TestConnect_LocalGuardRejectsImmediately(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{})
	seedTasks(t, e, "a", "b", "c")
	mustConnect(t, e, "a", "b")
	mustConnect(t, e, "b", "c")
	waitSettled(t, e)

	cases := []struct {
		name     string
		from, to string
		want     errors.Code
	}{
		{"self", "a", "a", errors.ErrCodeSelfDependency},
		{"duplicate", "a", "b", errors.ErrCodeDuplicateEdge},
		{"cycle", "c", "a", errors.ErrCodeCycleRejected},
		{"unknown task", "a", "nope", errors.ErrCodeStaleEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Connect(ctx, tc.from, tc.to)
			if got := errors.GetCode(err); got != tc.want {
				t.Errorf("Connect(%s, %s) code = %s, want %s", tc.from, tc.to, got, tc.want)
			}
		})
	}
	if got := len(e.Snapshot().Dependencies); got != 2 {
		t.Errorf("dependencies after rejections = %d, want 2", got)
	}
	if got := e.PendingCount(); got != 0 {
		t.Errorf("pending after local rejections = %d, want 0", got)
	}
}

func TestConnect_RemoteConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	ss := &scriptedStore{
		Store:      store.NewMemoryStore(),
		createErrs: []error{errors.New(errors.ErrCodeCycleRejected, "server disagrees")},
	}
	var (
		mu       sync.Mutex
		rejected []string
	)
	e := newTestEngine(t, ss, Options{
		OnReject: func(op, entityID string, err error) {
			mu.Lock()
			rejected = append(rejected, op)
			mu.Unlock()
		},
	})
	seedTasks(t, e, "a", "b")

	if _, err := e.Connect(ctx, "a", "b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitSettled(t, e)

	if got := len(e.Snapshot().Dependencies); got != 0 {
		t.Errorf("dependencies after rollback = %d, want 0", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(rejected) != 1 || rejected[0] != OpConnect {
		t.Errorf("OnReject calls = %v, want [%s]", rejected, OpConnect)
	}
}

func TestConnect_TransientFailureRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	ss := &scriptedStore{
		Store: store.NewMemoryStore(),
		createErrs: []error{
			errors.New(errors.ErrCodePersistence, "store unavailable"),
			errors.New(errors.ErrCodePersistence, "store unavailable"),
		},
	}
	e := newTestEngine(t, ss, Options{})
	seedTasks(t, e, "a", "b")

	if _, err := e.Connect(ctx, "a", "b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitSettled(t, e)

	recs, _ := ss.ListDependencies(ctx, "scope")
	if len(recs) != 1 {
		t.Fatalf("persisted edges = %d, want 1 after retries", len(recs))
	}
	if got := len(e.Snapshot().Dependencies); got != 1 {
		t.Errorf("local edges = %d, want 1", got)
	}
}

func TestConnect_TransientExhaustionRollsBack(t *testing.T) {
	ctx := context.Background()
	down := errors.New(errors.ErrCodePersistence, "store unavailable")
	ss := &scriptedStore{
		Store:      store.NewMemoryStore(),
		createErrs: []error{down, down, down},
	}
	done := make(chan error, 1)
	e := newTestEngine(t, ss, Options{
		OnReject: func(op, entityID string, err error) { done <- err },
	})
	seedTasks(t, e, "a", "b")

	if _, err := e.Connect(ctx, "a", "b"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case err := <-done:
		if got := errors.GetCode(err); got != errors.ErrCodePersistence {
			t.Errorf("rejection code = %s, want %s", got, errors.ErrCodePersistence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnReject not called")
	}
	waitSettled(t, e)
	if got := len(e.Snapshot().Dependencies); got != 0 {
		t.Errorf("local edges after exhausted retries = %d, want 0", got)
	}
}

func TestDisconnect_NotFoundCountsAsSuccess(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b")
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)

	// Another session deletes the edge behind our back.
	recs, _ := ms.ListDependencies(ctx, "scope")
	if err := ms.DeleteDependency(ctx, "scope", recs[0].EdgeID); err != nil {
		t.Fatalf("DeleteDependency: %v", err)
	}

	if err := e.Disconnect(ctx, recs[0].EdgeID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	waitSettled(t, e)
	if got := len(e.Snapshot().Dependencies); got != 0 {
		t.Errorf("local edges = %d, want 0 (stale delete is a no-op success)", got)
	}
}

func TestPlace_DropCreatesEdgeTowardDroppedTask(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{})
	seedTasks(t, e, "target", "dropped")

	if err := e.Place(ctx, "dropped", graph.Point{X: 10, Y: 20}, "target"); err != nil {
		t.Fatalf("Place: %v", err)
	}
	waitSettled(t, e)

	snap := e.Snapshot()
	if len(snap.Dependencies) != 1 {
		t.Fatalf("dependencies = %d, want 1", len(snap.Dependencies))
	}
	d := snap.Dependencies[0]
	if d.From != "target" || d.To != "dropped" {
		t.Errorf("edge = %s→%s, want target→dropped", d.From, d.To)
	}
	task, _ := snap.Task("dropped")
	if !task.Placed() {
		t.Error("dropped task should be placed")
	}
}

func TestPlace_EdgeRefusedButPlacementStands(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{})
	seedTasks(t, e, "a", "b")
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)

	// Dropping a onto b would close the cycle b→a; the edge is refused
	// but the position sticks.
	err := e.Place(ctx, "a", graph.Point{X: 1, Y: 2}, "b")
	if got := errors.GetCode(err); got != errors.ErrCodeCycleRejected {
		t.Fatalf("Place code = %s, want %s", got, errors.ErrCodeCycleRejected)
	}
	waitSettled(t, e)
	task, _ := e.Snapshot().Task("a")
	if !task.Placed() {
		t.Error("placement should survive a refused drop edge")
	}
	if got := len(e.Snapshot().Dependencies); got != 1 {
		t.Errorf("dependencies = %d, want 1", got)
	}
}

func TestUnplace_KeepsEdges(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b")
	// Place before connecting so the one-time bootstrap layout never fires
	// and the only position writes are this test's own.
	if err := e.Place(ctx, "a", graph.Point{X: 5, Y: 5}, ""); err != nil {
		t.Fatalf("Place: %v", err)
	}
	waitSettled(t, e)
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)

	if err := e.Unplace(ctx, "a"); err != nil {
		t.Fatalf("Unplace: %v", err)
	}
	waitSettled(t, e)

	snap := e.Snapshot()
	if got := len(snap.Dependencies); got != 1 {
		t.Errorf("dependencies after Unplace = %d, want 1", got)
	}
	task, _ := snap.Task("a")
	if task.Placed() {
		t.Error("task should be pooled after Unplace")
	}
	positions, _ := ms.ListPositions(ctx, "scope")
	for _, p := range positions {
		if p.TaskID == "a" {
			t.Error("position for a should be cleared in the store")
		}
	}
}

func TestDrag_PersistsOncePerGesture(t *testing.T) {
	ctx := context.Background()
	ss := &scriptedStore{Store: store.NewMemoryStore()}
	e := newTestEngine(t, ss, Options{})
	seedTasks(t, e, "a")

	for i := 0; i < 25; i++ {
		if err := e.DragTo("a", graph.Point{X: float64(i), Y: float64(i)}); err != nil {
			t.Fatalf("DragTo: %v", err)
		}
	}
	if got := ss.positionCalls(); got != 0 {
		t.Fatalf("store writes during drag = %d, want 0", got)
	}
	if err := e.EndDrag(ctx, "a"); err != nil {
		t.Fatalf("EndDrag: %v", err)
	}
	waitSettled(t, e)

	if got := ss.positionCalls(); got != 1 {
		t.Errorf("store writes per gesture = %d, want 1", got)
	}
	positions, _ := ss.ListPositions(ctx, "scope")
	if len(positions) != 1 || positions[0].Pos.X != 24 {
		t.Errorf("persisted position = %+v, want final drag position", positions)
	}
}

func TestBootstrap_InitialLayoutWhenNothingPlaced(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if _, err := ms.CreateDependency(ctx, "scope", "a", "b"); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}

	// AutoLayout off: the one-time bootstrap layout still runs.
	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b")
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		task, _ := e.Snapshot().Task(id)
		if !task.Placed() {
			t.Errorf("task %s not placed after bootstrap layout", id)
		}
	}
	positions, _ := ms.ListPositions(ctx, "scope")
	if len(positions) != 2 {
		t.Errorf("persisted positions = %d, want 2", len(positions))
	}
}

func TestBootstrap_SavedPositionsSuppressInitialLayout(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if _, err := ms.CreateDependency(ctx, "scope", "a", "b"); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}
	saved := graph.Point{X: 123, Y: 456}
	if err := ms.UpdateTaskPosition(ctx, "scope", "a", &saved); err != nil {
		t.Fatalf("UpdateTaskPosition: %v", err)
	}

	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b")
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	task, _ := e.Snapshot().Task("a")
	if task.Pos == nil || *task.Pos != saved {
		t.Errorf("task a position = %v, want saved %v", task.Pos, saved)
	}
	b, _ := e.Snapshot().Task("b")
	if b.Placed() {
		t.Error("task b should stay pooled when saved positions exist")
	}
}

func TestAutoLayout_RunsOnConfirmedEdgeWhenEnabled(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore(), Options{AutoLayout: true})
	seedTasks(t, e, "a", "b")
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)

	waitFor(t, func() bool {
		a, _ := e.Snapshot().Task("a")
		b, _ := e.Snapshot().Task("b")
		return a.Placed() && b.Placed()
	})
}

func TestRelayout_PersistFailureKeepsLocalLayout(t *testing.T) {
	ctx := context.Background()
	down := errors.New(errors.ErrCodePersistence, "store unavailable")
	ss := &scriptedStore{Store: store.NewMemoryStore()}
	e := newTestEngine(t, ss, Options{})
	seedTasks(t, e, "a", "b")
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)
	// The confirmed edge triggers the one-time bootstrap layout; wait for
	// its writes to land before injecting failures.
	waitFor(t, func() bool {
		recs, err := ss.ListPositions(ctx, "scope")
		return err == nil && len(recs) == 2
	})

	// Every position write fails transiently during relayout.
	ss.mu.Lock()
	ss.posErrs = []error{down, down, down, down, down, down}
	ss.mu.Unlock()

	err := e.Relayout(ctx)
	if got := errors.GetCode(err); got != errors.ErrCodePersistence {
		t.Fatalf("Relayout code = %s, want %s", got, errors.ErrCodePersistence)
	}
	// Positions were applied locally even though persistence failed; the
	// next Sync retries them.
	for _, id := range []string{"a", "b"} {
		task, _ := e.Snapshot().Task(id)
		if !task.Placed() {
			t.Errorf("task %s not placed after relayout with failing store", id)
		}
	}
}

func TestApplyRemote_SkipsOwnEchoes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{SessionID: "me"})
	seedTasks(t, e, "a", "b")

	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventDependencyCreated, ScopeID: "scope",
		EdgeID: "e1", From: "a", To: "b", Origin: "me",
	})
	if got := len(e.Snapshot().Dependencies); got != 0 {
		t.Errorf("dependencies after own echo = %d, want 0", got)
	}
}

func TestApplyRemote_MergesAndGuards(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{SessionID: "me"})
	seedTasks(t, e, "a", "b")

	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventDependencyCreated, ScopeID: "scope",
		EdgeID: "e1", From: "a", To: "b", Origin: "peer",
	})
	if got := len(e.Snapshot().Dependencies); got != 1 {
		t.Fatalf("dependencies after remote create = %d, want 1", got)
	}

	// A remote edge that closes a cycle locally is dropped, not applied.
	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventDependencyCreated, ScopeID: "scope",
		EdgeID: "e2", From: "b", To: "a", Origin: "peer",
	})
	if got := len(e.Snapshot().Dependencies); got != 1 {
		t.Errorf("dependencies after cyclic remote edge = %d, want 1", got)
	}

	p := graph.Point{X: 3, Y: 4}
	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventPositionUpdated, ScopeID: "scope",
		TaskID: "a", Pos: &p, Origin: "peer",
	})
	task, _ := e.Snapshot().Task("a")
	if task.Pos == nil || *task.Pos != p {
		t.Errorf("position after remote update = %v, want %v", task.Pos, p)
	}

	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventDependencyDeleted, ScopeID: "scope",
		EdgeID: "e1", Origin: "peer",
	})
	if got := len(e.Snapshot().Dependencies); got != 0 {
		t.Errorf("dependencies after remote delete = %d, want 0", got)
	}
}

func TestApplyRemote_DragWinsOverRemotePosition(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemoryStore(), Options{SessionID: "me"})
	seedTasks(t, e, "a")

	if err := e.DragTo("a", graph.Point{X: 1, Y: 1}); err != nil {
		t.Fatalf("DragTo: %v", err)
	}
	remote := graph.Point{X: 99, Y: 99}
	e.ApplyRemote(ctx, store.Event{
		Kind: store.EventPositionUpdated, ScopeID: "scope",
		TaskID: "a", Pos: &remote, Origin: "peer",
	})
	task, _ := e.Snapshot().Task("a")
	if task.Pos == nil || task.Pos.X != 1 {
		t.Errorf("position mid-drag = %v, want local {1 1}", task.Pos)
	}
}

func TestSync_ConvergesWithRemote(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms, Options{})
	seedTasks(t, e, "a", "b", "c")
	mustConnect(t, e, "a", "b")
	waitSettled(t, e)
	// Let the one-time bootstrap layout finish persisting before the
	// remote side diverges.
	waitFor(t, func() bool {
		recs, err := ms.ListPositions(ctx, "scope")
		return err == nil && len(recs) == 3
	})

	// Remote gains an edge and loses ours.
	recs, _ := ms.ListDependencies(ctx, "scope")
	if err := ms.DeleteDependency(ctx, "scope", recs[0].EdgeID); err != nil {
		t.Fatalf("DeleteDependency: %v", err)
	}
	if _, err := ms.CreateDependency(ctx, "scope", "b", "c"); err != nil {
		t.Fatalf("CreateDependency: %v", err)
	}
	p := graph.Point{X: 11, Y: 12}
	if err := ms.UpdateTaskPosition(ctx, "scope", "c", &p); err != nil {
		t.Fatalf("UpdateTaskPosition: %v", err)
	}

	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Dependencies) != 1 || snap.Dependencies[0].From != "b" || snap.Dependencies[0].To != "c" {
		t.Errorf("dependencies after Sync = %+v, want single b→c", snap.Dependencies)
	}
	task, _ := snap.Task("c")
	if task.Pos == nil || *task.Pos != p {
		t.Errorf("position after Sync = %v, want %v", task.Pos, p)
	}
}

func TestForgetTask_StaleConfirmationIsNoOp(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	gs := &gatedStore{Store: store.NewMemoryStore(), release: release}
	e := newTestEngine(t, gs, Options{})
	seedTasks(t, e, "a", "b")

	edgeID, err := e.Connect(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if edgeID == "" {
		t.Fatal("expected a client-generated edge ID")
	}
	// The task vanishes while the create is still in flight.
	if err := e.ForgetTask("b"); err != nil {
		t.Fatalf("ForgetTask: %v", err)
	}
	close(release)
	waitSettled(t, e)

	snap := e.Snapshot()
	if len(snap.Dependencies) != 0 {
		t.Errorf("dependencies = %d, want 0 (confirmation for a forgotten task must not resurrect the edge)", len(snap.Dependencies))
	}
	if _, ok := snap.Task("b"); ok {
		t.Error("task b should be gone")
	}
}

// gatedStore blocks CreateDependency until released, for in-flight races.
type gatedStore struct {
	store.Store
	release chan struct{}
}

func (g *gatedStore) CreateDependency(ctx context.Context, scopeID, from, to string) (string, error) {
	<-g.release
	return g.Store.CreateDependency(ctx, scopeID, from, to)
}

func TestDisconnect_DuringInFlightConnectDeletesRemotely(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	gs := &gatedStore{Store: store.NewMemoryStore(), release: release}
	e := newTestEngine(t, gs, Options{})
	seedTasks(t, e, "a", "b")

	edgeID := mustConnect(t, e, "a", "b")
	// The user removes the edge before its create ever reaches the store.
	// The delete cannot target the temp ID; it must chase the create and
	// use the server-assigned one.
	if err := e.Disconnect(ctx, edgeID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	close(release)
	waitSettled(t, e)

	recs, err := gs.ListDependencies(ctx, "scope")
	if err != nil {
		t.Fatalf("ListDependencies: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("remote edges after settle = %d, want 0", len(recs))
	}
	if n := len(e.Snapshot().Dependencies); n != 0 {
		t.Errorf("local edges after settle = %d, want 0", n)
	}

	// A full reconciliation afterwards must not resurrect the deleted edge.
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n := len(e.Snapshot().Dependencies); n != 0 {
		t.Errorf("local edges after Sync = %d, want 0 (deletion was undone)", n)
	}
}

func TestDisconnect_DuringRejectedConnectConfirmsQuietly(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	ss := &scriptedStore{Store: store.NewMemoryStore(), createErrs: []error{
		errors.New(errors.ErrCodeCycleRejected, "server saw a cycle"),
	}}
	gs := &gatedStore{Store: ss, release: release}
	e := newTestEngine(t, gs, Options{})
	seedTasks(t, e, "a", "b")

	edgeID := mustConnect(t, e, "a", "b")
	if err := e.Disconnect(ctx, edgeID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	close(release)
	waitSettled(t, e)

	// The create never landed, so there is nothing remote to delete and
	// the rejection's rollback must not resurrect the removed edge.
	if n := len(e.Snapshot().Dependencies); n != 0 {
		t.Errorf("local edges after settle = %d, want 0", n)
	}
	recs, err := gs.ListDependencies(ctx, "scope")
	if err != nil {
		t.Fatalf("ListDependencies: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("remote edges after settle = %d, want 0", len(recs))
	}
}

// TestTwoSessionsConverge runs two engines over one shared store with push
// events: a mutation in one session shows up in the other without polling,
// and the mutating session does not re-merge its own echo.
func TestTwoSessionsConverge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ms := store.NewMemoryStore()

	e1 := newTestEngine(t, ms, Options{SessionID: "s1", PollInterval: time.Hour})
	e2 := newTestEngine(t, ms, Options{SessionID: "s2", PollInterval: time.Hour})
	seedTasks(t, e1, "a", "b")
	seedTasks(t, e2, "a", "b")

	go e1.Run(ctx)
	go e2.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let both subscriptions attach

	// Pin both tasks first so no bootstrap layout competes with the
	// positions this test asserts on.
	if err := e1.Place(ctx, "a", graph.Point{X: 0, Y: 0}, ""); err != nil {
		t.Fatalf("Place a: %v", err)
	}
	if err := e1.Place(ctx, "b", graph.Point{X: 0, Y: 120}, ""); err != nil {
		t.Fatalf("Place b: %v", err)
	}
	waitSettled(t, e1)
	waitFor(t, func() bool {
		a, _ := e2.Snapshot().Task("a")
		b, _ := e2.Snapshot().Task("b")
		return a.Placed() && b.Placed()
	})

	mustConnect(t, e1, "a", "b")
	waitSettled(t, e1)

	waitFor(t, func() bool { return len(e2.Snapshot().Dependencies) == 1 })
	// Both sessions converge on the server-assigned edge ID.
	d1 := e1.Snapshot().Dependencies[0]
	d2 := e2.Snapshot().Dependencies[0]
	if d1.ID != d2.ID {
		t.Errorf("edge IDs diverged: %s vs %s", d1.ID, d2.ID)
	}

	pos := graph.Point{X: 42, Y: 7}
	if err := e2.Place(ctx, "b", pos, ""); err != nil {
		t.Fatalf("Place: %v", err)
	}
	waitSettled(t, e2)
	waitFor(t, func() bool {
		task, ok := e1.Snapshot().Task("b")
		return ok && task.Pos != nil && *task.Pos == pos
	})
}

func mustConnect(t *testing.T, e *Engine, from, to string) string {
	t.Helper()
	id, err := e.Connect(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Connect(%s, %s): %v", from, to, err)
	}
	return id
}
