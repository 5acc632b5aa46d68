package matchlog

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang/snappy"
)

// TimelineEntry represents a single turn record ready for deterministic iteration.
type TimelineEntry struct {
	Turn       uint64
	CapturedAt time.Time
	Kind       string
	Payload    []byte
}

// Loader rehydrates a compressed turn log for validation and catalogue tooling.
type Loader struct {
	entries []TimelineEntry
}

// Load constructs a loader from a turns.jsonl.sz artefact produced by Writer.
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("matchlog path must be provided")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := snappy.NewReader(file)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var entries []TimelineEntry
	for scanner.Scan() {
		var record struct {
			Turn       uint64 `json:"turn"`
			CapturedAt string `json:"captured_at"`
			Kind       string `json:"kind"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("decode turn record: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse turn captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode turn payload: %w", err)
		}
		//1.- Preserve arrival order; turn numbers are already monotonic by construction.
		entries = append(entries, TimelineEntry{Turn: record.Turn, CapturedAt: captured, Kind: record.Kind, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Loader{entries: entries}, nil
}

// Replay iterates over the loaded entries in recorded order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		//1.- Invoke the callback for each timeline entry to drive the validation pass.
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a defensive copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
