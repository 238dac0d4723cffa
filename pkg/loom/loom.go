/*
Package loom is the surgical text-editing subsystem: anchor-based inserts,
block replacement and appends on files under the project root, with a safety
contract strong enough to hand to untrusted callers.

Every operation acquires an advisory lock file, captures the target's
mtime as an optimistic fence, stages all edits in memory, re-checks the
fence, and writes atomically — so a call either lands all of its edits or
leaves the file byte-for-byte untouched.
*/
package loom

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/weft/pkg/safepath"
)

// Op selects the edit kind in an Apply batch.
type Op string

const (
	OpInsert       Op = "insert"
	OpReplaceBlock Op = "replace_block"
	OpAppend       Op = "append"
)

// MatchMode selects how Spec is located in the file.
type MatchMode string

const (
	MatchExact MatchMode = "exact"
	MatchRegex MatchMode = "regex"
)

// Position places inserted content relative to its anchor.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

// Edit is one entry of an Apply batch.
//
// Count is the number of occurrences Spec must have; zero means one. If the
// actual count differs the entire batch is aborted and the file is left
// unchanged.
type Edit struct {
	Op        Op
	MatchMode MatchMode
	Spec      string
	EndSpec   string // replace_block only: the closing marker
	Content   string
	Position  Position
	Count     int
}

// Defaults for the safety contract.
const (
	DefaultMaxFileSize = 50 << 20 // 50 MiB
	DefaultLockTimeout = 5 * time.Second
	DefaultLockStale   = 30 * time.Second
	DefaultRegexBudget = 100 * time.Millisecond
)

var utf8BOM = "\xEF\xBB\xBF"

// Loom performs guarded edits beneath a project root.
type Loom struct {
	root        string
	whitelist   []string
	maxSize     int64
	lockTimeout time.Duration
	lockStale   time.Duration
	regexBudget time.Duration
	logger      *slog.Logger

	// beforeWrite runs between staging and the fence re-check; tests use it
	// to interleave a concurrent writer deterministically.
	beforeWrite func()
}

// Option configures a Loom.
type Option func(*Loom)

// WithWhitelist restricts edits to paths matching the given patterns
// (slash-separated; a trailing "/" matches the subtree, otherwise
// filepath.Match semantics apply). An empty whitelist allows everything
// under the root.
func WithWhitelist(patterns []string) Option {
	return func(l *Loom) { l.whitelist = patterns }
}

// WithMaxFileSize overrides the edit size cap.
func WithMaxFileSize(n int64) Option {
	return func(l *Loom) { l.maxSize = n }
}

// WithLockTimings overrides the lock acquisition deadline and staleness
// window (tests).
func WithLockTimings(timeout, stale time.Duration) Option {
	return func(l *Loom) { l.lockTimeout = timeout; l.lockStale = stale }
}

// WithRegexBudget overrides the per-pattern evaluation budget.
func WithRegexBudget(d time.Duration) Option {
	return func(l *Loom) { l.regexBudget = d }
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loom) { l.logger = logger }
}

// New creates a Loom jailed to root.
func New(root string, opts ...Option) *Loom {
	l := &Loom{
		root:        root,
		maxSize:     DefaultMaxFileSize,
		lockTimeout: DefaultLockTimeout,
		lockStale:   DefaultLockStale,
		regexBudget: DefaultRegexBudget,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Insert places content before or after a unique anchor.
func (l *Loom) Insert(path, anchor, content string, pos Position) error {
	return l.Apply(path, []Edit{{
		Op: OpInsert, MatchMode: MatchExact, Spec: anchor, Content: content, Position: pos,
	}})
}

// ReplaceBlock replaces the lines between a unique start/end marker pair.
// The markers themselves are preserved.
func (l *Loom) ReplaceBlock(path, startMarker, endMarker, content string) error {
	return l.Apply(path, []Edit{{
		Op: OpReplaceBlock, MatchMode: MatchExact, Spec: startMarker, EndSpec: endMarker, Content: content,
	}})
}

// Append adds content at the end of the file.
func (l *Loom) Append(path, content string) error {
	return l.Apply(path, []Edit{{Op: OpAppend, Content: content}})
}

// Apply runs a batch of edits transactionally: all of them land, or no byte
// of the file changes.
func (l *Loom) Apply(path string, edits []Edit) error {
	if err := l.checkWhitelist(path); err != nil {
		return err
	}
	target, err := safepath.Resolve(l.root, path)
	if err != nil {
		return err
	}

	release, err := acquireLock(target+".lock", l.lockTimeout, l.lockStale, l.logger)
	if err != nil {
		return err
	}
	defer release()

	st, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("stat target: %w", err)
	}
	if st.Size() > l.maxSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, st.Size())
	}
	// Fence: captured after lock acquisition, before the read.
	fence := st.ModTime().UnixNano()

	raw, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("read target: %w", err)
	}

	text := string(raw)
	bom := strings.HasPrefix(text, utf8BOM)
	if bom {
		text = text[len(utf8BOM):]
	}
	if !utf8.ValidString(text) {
		return &EncodingError{Path: path}
	}

	staged, err := l.stage(text, edits)
	if err != nil {
		return err
	}

	if l.beforeWrite != nil {
		l.beforeWrite()
	}

	// Re-check the fence just before writing.
	st2, err := os.Stat(target)
	if err != nil {
		return &ContentChangedError{Path: path}
	}
	if st2.ModTime().UnixNano() != fence {
		return &ContentChangedError{Path: path}
	}

	if bom {
		staged = utf8BOM + staged
	}
	return atomicWrite(target, []byte(staged))
}

// stage applies all edits to an in-memory copy.
func (l *Loom) stage(text string, edits []Edit) (string, error) {
	for _, edit := range edits {
		lines := splitLines(text)
		eol := dominantEOL(lines)

		var next []line
		var err error
		switch edit.Op {
		case OpInsert:
			next, err = l.stageInsert(lines, edit, eol)
		case OpReplaceBlock:
			next, err = l.stageReplaceBlock(lines, edit, eol)
		case OpAppend:
			next = stageAppend(lines, edit, eol)
		default:
			return "", fmt.Errorf("unknown edit op %q", edit.Op)
		}
		if err != nil {
			return "", err
		}
		text = joinLines(next)
	}
	return text, nil
}

func (l *Loom) stageInsert(lines []line, edit Edit, eol string) ([]line, error) {
	ranges, err := l.locate(lines, edit)
	if err != nil {
		return nil, err
	}

	content := contentLines(edit.Content, eol)
	var out []line
	prev := 0
	for _, r := range ranges {
		if edit.Position == Before {
			out = append(out, lines[prev:r[0]]...)
			out = append(out, content...)
			out = append(out, lines[r[0]:r[1]]...)
		} else {
			out = append(out, lines[prev:r[1]]...)
			out = append(out, content...)
		}
		prev = r[1]
	}
	out = append(out, lines[prev:]...)
	return out, nil
}

func (l *Loom) stageReplaceBlock(lines []line, edit Edit, eol string) ([]line, error) {
	starts, err := l.locate(lines, edit)
	if err != nil {
		return nil, err
	}
	start := starts[0]

	endEdit := Edit{MatchMode: edit.MatchMode, Spec: edit.EndSpec, Count: 1}
	endRanges, err := l.findAll(lines[start[1]:], endEdit)
	if err != nil {
		return nil, err
	}
	if len(endRanges) != 1 {
		return nil, &MatchCountError{Spec: edit.EndSpec, Want: 1, Got: len(endRanges)}
	}
	end := [2]int{endRanges[0][0] + start[1], endRanges[0][1] + start[1]}

	content := contentLines(edit.Content, eol)
	var out []line
	out = append(out, lines[:start[1]]...)
	out = append(out, content...)
	out = append(out, lines[end[0]:]...)
	return out, nil
}

func stageAppend(lines []line, edit Edit, eol string) []line {
	// Terminate a dangling final line before appending.
	if n := len(lines); n > 0 && lines[n-1].eol == "" {
		lines[n-1].eol = eol
	}
	return append(lines, contentLines(edit.Content, eol)...)
}

// locate finds Spec's occurrences and enforces the uniqueness contract.
func (l *Loom) locate(lines []line, edit Edit) ([][2]int, error) {
	ranges, err := l.findAll(lines, edit)
	if err != nil {
		return nil, err
	}
	want := edit.Count
	if want == 0 {
		want = 1
	}
	if len(ranges) != want {
		return nil, &MatchCountError{Spec: edit.Spec, Want: want, Got: len(ranges)}
	}
	return ranges, nil
}

func (l *Loom) findAll(lines []line, edit Edit) ([][2]int, error) {
	if edit.MatchMode == MatchRegex {
		return findRegex(lines, edit.Spec, l.regexBudget)
	}
	return findExact(lines, edit.Spec), nil
}

func (l *Loom) checkWhitelist(path string) error {
	if len(l.whitelist) == 0 {
		return nil
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, pattern := range l.whitelist {
		if strings.HasSuffix(pattern, "/") {
			if strings.HasPrefix(clean, pattern) || clean+"/" == pattern {
				return nil
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, clean); ok {
			return nil
		}
	}
	return &PermissionError{Path: path}
}

// atomicWrite stages bytes beside the destination and renames into place.
func atomicWrite(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".loom-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
