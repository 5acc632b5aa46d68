// Package matchlog persists a durable, append-only record of a match: one
// newline-delimited JSON line per turn (spec requirement) alongside a
// compact binary archive of the commands that produced that turn. The JSON
// stream is snappy-compressed for fast tailing; the binary archive is
// zstd-compressed for efficient long-term storage.
package matchlog

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var matchIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const commandFlushInterval = 200 * time.Millisecond

// commandBlob stages a per-turn command batch before it is persisted to disk.
type commandBlob struct {
	Turn       uint64
	CapturedAt time.Time
	Payload    []byte
}

// Writer streams a match's turn-by-turn record to disk.
type Writer struct {
	mu             sync.Mutex
	dir            string
	now            func() time.Time
	turnFile       *os.File
	turnStream     *snappy.Writer
	commandFile    *os.File
	commandStream  *zstd.Encoder
	pending        []commandBlob
	lastFlush      time.Time
	headerGameRule string
}

// Manifest describes the match log bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version          int    `json:"version"`
	CreatedAt        string `json:"created_at"`
	FlushIntervalMs  int    `json:"flush_interval_ms"`
	TurnsPath        string `json:"turns_path"`
	CommandsPath     string `json:"commands_path"`
}

// NewWriter prepares the match log directory and opens compressed sinks.
func NewWriter(root, matchID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("matchlog root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := matchIDCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	turnsPath := filepath.Join(path, "turns.jsonl.sz")
	commandsPath := filepath.Join(path, "commands.bin.zst")
	manifestPath := filepath.Join(path, "manifest.json")

	turnFile, err := os.Create(turnsPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	turnStream := snappy.NewBufferedWriter(turnFile)

	commandFile, err := os.Create(commandsPath)
	if err != nil {
		turnFile.Close()
		return nil, Manifest{}, err
	}
	commandStream, err := zstd.NewWriter(commandFile)
	if err != nil {
		turnStream.Close()
		turnFile.Close()
		commandFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FlushIntervalMs: int(commandFlushInterval / time.Millisecond),
		TurnsPath:       "turns.jsonl.sz",
		CommandsPath:    "commands.bin.zst",
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		commandStream.Close()
		commandFile.Close()
		turnStream.Close()
		turnFile.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		commandStream.Close()
		commandFile.Close()
		turnStream.Close()
		turnFile.Close()
		return nil, Manifest{}, err
	}

	writer := &Writer{
		dir:           path,
		now:           clock,
		turnFile:      turnFile,
		turnStream:    turnStream,
		commandFile:   commandFile,
		commandStream: commandStream,
	}

	return writer, manifest, nil
}

// Stats summarises writer buffering state for monitoring endpoints.
type Stats struct {
	BufferedTurns int
	BufferedBytes int64
	Dumps         int64
}

// Stats reports the writer's current buffering state.
func (w *Writer) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var bytes int64
	for _, cmd := range w.pending {
		bytes += int64(len(cmd.Payload))
	}
	return Stats{BufferedTurns: len(w.pending), BufferedBytes: bytes}
}

// Directory exposes the directory backing the match log bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendTurn writes a single JSON line describing the outcome of one turn.
func (w *Writer) AppendTurn(turn uint64, kind string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Encode the turn payload with metadata so downstream JSONL parsers can stream it safely.
	record := struct {
		Turn       uint64 `json:"turn"`
		CapturedAt string `json:"captured_at"`
		Kind       string `json:"kind"`
		PayloadB64 string `json:"payload_b64"`
	}{
		Turn:       turn,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Kind:       kind,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.turnStream.Write(line); err != nil {
		return err
	}
	if _, err := w.turnStream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.turnStream.Flush()
}

// AppendCommand buffers a client command until the flush cadence is reached.
func (w *Writer) AppendCommand(turn uint64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Stage the command so cadence enforcement can persist batches together.
	w.pending = append(w.pending, commandBlob{Turn: turn, CapturedAt: captured, Payload: clone})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= commandFlushInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// SetHeaderMetadata configures the header persisted alongside the match log bundle.
func (w *Writer) SetHeaderMetadata(gameRules string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.headerGameRule = gameRules
	w.mu.Unlock()
}

// Flush forces pending commands to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Persist pending commands then refresh the cadence anchor to avoid bursts.
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close synchronously flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	//1.- Persist the metadata header before dismantling the streaming sinks.
	var firstErr error
	headerPath := filepath.Join(w.dir, "header.json")
	header := Header{SchemaVersion: HeaderSchemaVersion, GameRules: w.headerGameRule, FilePointer: "manifest.json"}
	if err := WriteHeader(headerPath, header); err != nil && firstErr == nil {
		firstErr = err
	}
	//2.- Attempt every flush/close and surface the first failure for callers to inspect.
	if err := w.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.turnStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.turnStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.turnFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.commandStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.commandFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flushLocked writes buffered commands to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	//1.- Write length-prefixed commands so archive readers can step efficiently.
	for _, cmd := range w.pending {
		header := make([]byte, 8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], cmd.Turn)
		binary.LittleEndian.PutUint64(header[8:16], uint64(cmd.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(cmd.Payload)))
		if _, err := w.commandStream.Write(header); err != nil {
			return err
		}
		if _, err := w.commandStream.Write(cmd.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
