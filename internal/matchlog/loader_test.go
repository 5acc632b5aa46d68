package matchlog

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestLoaderReplayOrdering(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	writer, _, err := NewWriter(dir, "beta", clock)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := writer.AppendTurn(1, "step", []byte(`{"turn":1}`)); err != nil {
		t.Fatalf("append turn 1: %v", err)
	}
	current = current.Add(200 * time.Millisecond)
	if err := writer.AppendTurn(2, "step", []byte(`{"turn":2}`)); err != nil {
		t.Fatalf("append turn 2: %v", err)
	}
	current = current.Add(200 * time.Millisecond)
	if err := writer.AppendTurn(3, "finished", []byte(`{"turn":3}`)); err != nil {
		t.Fatalf("append turn 3: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	loader, err := Load(writer.Directory() + "/turns.jsonl.sz")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var sequence []string
	err = loader.Replay(func(entry TimelineEntry) error {
		//1.- Capture the ordered sequence for deterministic assertions.
		sequence = append(sequence, fmt.Sprintf("%s:%d", entry.Kind, entry.Turn))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	expected := []string{"step:1", "step:2", "finished:3"}
	if !reflect.DeepEqual(sequence, expected) {
		t.Fatalf("unexpected replay order: %v", sequence)
	}

	entries := loader.Entries()
	if len(entries) != len(sequence) {
		t.Fatalf("expected %d entries copy, got %d", len(sequence), len(entries))
	}
}
