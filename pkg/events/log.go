// Package events provides the append-only JSONL event log of a workflow
// run, with blob spillover for large payloads and rotation for large log
// files. A single mutex serializes writers; every append is flushed and
// fsync'd before Emit returns.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxInlinePayload is the embed/spill threshold in serialized bytes.
	MaxInlinePayload = 8192
	// DefaultRotateBytes triggers log rotation.
	DefaultRotateBytes = 10 << 20
)

// Event is one log record. Payload is either the inline serialized value or
// a {"ref": "blob_<uuid>.json"} pointer into artifacts/.
type Event struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	TaskID    string          `json:"task_id,omitempty"`
	StepID    string          `json:"step_id,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Preserve  bool            `json:"preserve,omitempty"`
}

// blobRef is the payload shape of a spilled event.
type blobRef struct {
	Ref string `json:"ref"`
}

// Log is the single-writer event sink for one flow directory.
type Log struct {
	mu           sync.Mutex
	logsDir      string
	artifactsDir string
	rotateBytes  int64
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Log.
type Option func(*Log)

// WithRotateBytes overrides the rotation threshold.
func WithRotateBytes(n int64) Option {
	return func(l *Log) { l.rotateBytes = n }
}

// WithLogger configures a logger for spill/rotation notices.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates an event log writing to <flowDir>/logs/events.jsonl with
// blobs under <flowDir>/artifacts/.
func NewLog(flowDir string, opts ...Option) *Log {
	l := &Log{
		logsDir:      filepath.Join(flowDir, "logs"),
		artifactsDir: filepath.Join(flowDir, "artifacts"),
		rotateBytes:  DefaultRotateBytes,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit appends one event. Payloads above MaxInlinePayload are written to an
// artifact blob and referenced; values the encoder cannot serialize (cycles,
// channels, NaN) are replaced by a truncation record rather than crashing
// the run. preserve marks the payload's blob as exempt from garbage
// collection.
func (l *Log) Emit(taskID, stepID, kind string, payload any, preserve bool) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		TaskID:    taskID,
		StepID:    stepID,
		Kind:      kind,
		Preserve:  preserve,
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("unserializable event payload", "kind", kind, "err", err)
		serialized, _ = json.Marshal(map[string]any{
			"truncated": true,
			"reason":    err.Error(),
		})
	}

	if len(serialized) > MaxInlinePayload {
		ref, err := l.spill(serialized)
		if err != nil {
			// Blob write failure degrades to an error payload, never a crash.
			l.logger.Warn("blob write failed", "kind", kind, "err", err)
			serialized, _ = json.Marshal(map[string]any{
				"truncated":     true,
				"reason":        "blob write failed: " + err.Error(),
				"original_size": len(serialized),
			})
		} else {
			serialized, _ = json.Marshal(blobRef{Ref: ref})
		}
	}
	event.Payload = serialized

	if err := l.append(event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func (l *Log) spill(serialized []byte) (string, error) {
	if err := os.MkdirAll(l.artifactsDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("blob_%s.json", uuid.NewString())
	if err := os.WriteFile(filepath.Join(l.artifactsDir, name), serialized, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func (l *Log) append(event Event) error {
	if err := os.MkdirAll(l.logsDir, 0o755); err != nil {
		return err
	}
	path := l.currentPath()

	if st, err := os.Stat(path); err == nil && st.Size() >= l.rotateBytes {
		if err := l.rotateLocked(path); err != nil {
			l.logger.Warn("event log rotation failed", "err", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return f.Sync()
}

func (l *Log) currentPath() string {
	return filepath.Join(l.logsDir, "events.jsonl")
}

// rotateLocked renames the full log aside with the next free sequence
// suffix. Caller holds the mutex.
func (l *Log) rotateLocked(path string) error {
	for seq := 1; ; seq++ {
		rotated := fmt.Sprintf("%s.%d", path, seq)
		if _, err := os.Stat(rotated); os.IsNotExist(err) {
			return os.Rename(path, rotated)
		}
	}
}

// GC removes artifact blobs referenced by the given task's events, unless
// the emitting event was marked preserve. Called when a workflow reaches
// COMPLETED or CANCELLED.
func (l *Log) GC(taskID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(l.currentPath() + "*")
	if err != nil {
		return err
	}

	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		for _, lineRaw := range splitJSONL(raw) {
			var event Event
			if json.Unmarshal(lineRaw, &event) != nil {
				continue
			}
			if event.TaskID != taskID || event.Preserve {
				continue
			}
			var ref blobRef
			if json.Unmarshal(event.Payload, &ref) != nil || ref.Ref == "" {
				continue
			}
			blob := filepath.Join(l.artifactsDir, filepath.Base(ref.Ref))
			if err := os.Remove(blob); err != nil && !os.IsNotExist(err) {
				l.logger.Warn("blob gc failed", "blob", ref.Ref, "err", err)
			}
		}
	}
	return nil
}

func splitJSONL(raw []byte) []json.RawMessage {
	var out []json.RawMessage
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				out = append(out, json.RawMessage(raw[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, json.RawMessage(raw[start:]))
	}
	return out
}
