package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// MarshalSnapshot converts a snapshot to indented JSON bytes.
// Output is deterministic because snapshots are sorted on construction.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeSnapshotTo(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSnapshot writes a snapshot as JSON to an io.Writer.
func WriteSnapshot(s Snapshot, w io.Writer) error {
	return writeSnapshotTo(s, w)
}

// WriteSnapshotFile writes a snapshot to a JSON file.
// The file is created with 0644 permissions.
func WriteSnapshotFile(s Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return writeSnapshotTo(s, f)
}

// ReadSnapshot decodes a JSON snapshot from an io.Reader and loads it into
// a new Store, re-validating every edge through the normal guard-gated
// path. Malformed JSON, unknown endpoints, duplicates, self edges, and
// cycles are all rejected.
func ReadSnapshot(r io.Reader) (*Store, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return FromSnapshot(snap)
}

// ReadSnapshotFile reads a JSON file and returns the loaded Store.
func ReadSnapshotFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// FromSnapshot builds a Store from a snapshot, passing every edge through
// AddDependency so store invariants hold on the result.
func FromSnapshot(snap Snapshot) (*Store, error) {
	s := NewStore()
	for _, t := range snap.Tasks {
		if err := s.UpsertTask(t); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	for _, d := range snap.Dependencies {
		if err := s.AddDependency(d); err != nil {
			return nil, fmt.Errorf("edge %s→%s: %w", d.From, d.To, err)
		}
	}
	return s, nil
}

func writeSnapshotTo(s Snapshot, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
