package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/taskdeck/taskgraph/pkg/graph"
)

func writeTestSnapshot(t *testing.T) string {
	t.Helper()
	g := graph.NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := g.UpsertTask(graph.Task{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("UpsertTask: %v", err)
		}
	}
	for _, e := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if err := g.AddDependency(graph.Dependency{ID: e[0] + e[1], From: e[0], To: e[1]}); err != nil {
			t.Fatalf("AddDependency: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := graph.WriteSnapshotFile(g.Snapshot(), path); err != nil {
		t.Fatalf("WriteSnapshotFile: %v", err)
	}
	return path
}

func runLayoutCmd(t *testing.T, args ...string) {
	t.Helper()
	cmd := newLayoutCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	ctx := withLogger(context.Background(), newLogger(io.Discard, charmlog.FatalLevel))
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("layout %v: %v", args, err)
	}
}

func TestLayoutCommand_WritesPlacedSnapshot(t *testing.T) {
	in := writeTestSnapshot(t)
	out := filepath.Join(t.TempDir(), "placed.json")

	runLayoutCmd(t, in, "-o", out)

	g, err := graph.ReadSnapshotFile(out)
	if err != nil {
		t.Fatalf("ReadSnapshotFile: %v", err)
	}
	snap := g.Snapshot()
	if len(snap.Tasks) != 4 || len(snap.Dependencies) != 4 {
		t.Fatalf("snapshot = %d tasks, %d deps; want 4 and 4", len(snap.Tasks), len(snap.Dependencies))
	}
	for _, task := range snap.Tasks {
		if !task.Placed() {
			t.Errorf("task %s has no position after layout", task.ID)
		}
	}
}

func TestLayoutCommand_Deterministic(t *testing.T) {
	in := writeTestSnapshot(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")

	runLayoutCmd(t, in, "-o", first)
	runLayoutCmd(t, in, "-o", second)

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(a) != string(b) {
		t.Error("identical input produced different layouts")
	}
}

func TestLayoutCommand_DOTExport(t *testing.T) {
	in := writeTestSnapshot(t)
	out := filepath.Join(t.TempDir(), "graph.dot")

	runLayoutCmd(t, in, "--dot", "--direction", "lr", "-o", out)

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read dot: %v", err)
	}
	dot := string(data)
	if !strings.Contains(dot, "digraph") {
		t.Errorf("DOT output missing digraph header:\n%s", dot)
	}
	if !strings.Contains(dot, `rankdir="LR"`) && !strings.Contains(dot, "rankdir=LR") {
		t.Errorf("DOT output missing rankdir for lr:\n%s", dot)
	}
	if !strings.Contains(dot, `"a" -> "b"`) {
		t.Errorf("DOT output missing edge a -> b:\n%s", dot)
	}
}

func TestLayoutCommand_RejectsBadDirection(t *testing.T) {
	in := writeTestSnapshot(t)
	cmd := newLayoutCmd()
	cmd.SetArgs([]string{in, "--direction", "diagonal"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	ctx := withLogger(context.Background(), newLogger(io.Discard, charmlog.FatalLevel))
	if err := cmd.ExecuteContext(ctx); err == nil {
		t.Error("layout accepted an invalid direction")
	}
}
