// Package dedupe remembers message hashes so repeated messages can be
// dropped, either within one run or across runs via a history file.
package dedupe

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Tracker interface {
	AlreadyProcessed(hash string) bool
	MarkProcessed(hash string, index int) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
}

// MemoryTracker keeps the archive index of the first message seen per hash.
type MemoryTracker struct {
	mu    sync.RWMutex
	first map[string]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{first: make(map[string]int)}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.first[hash]
	return ok
}

func (m *MemoryTracker) MarkProcessed(hash string, index int) error {
	m.Observe(hash, index)
	return nil
}

// Observe records hash and reports whether it had been recorded before.
// The empty hash is never recorded.
func (m *MemoryTracker) Observe(hash string, index int) bool {
	if hash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.first[hash]; ok {
		return true
	}
	m.first[hash] = index
	return false
}

// FirstIndex returns the index the hash was first recorded with.
func (m *MemoryTracker) FirstIndex(hash string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.first[hash]
	return idx, ok
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Processed: len(m.first)}
}

// HistoryFileName is the JSON lines file kept in the state directory.
const HistoryFileName = "exported.jsonl"

type historyRecord struct {
	Hash     string    `json:"hash"`
	Index    int       `json:"index"`
	Source   string    `json:"source,omitempty"`
	Exported time.Time `json:"exported"`
}

// History is a MemoryTracker backed by an append-only file listing every
// message exported so far. Records are appended as messages are marked.
type History struct {
	*MemoryTracker
	source string
	path   string

	writeMu sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	now     func() time.Time
}

// OpenHistory loads the history kept in stateDir and opens it for appending.
// source names the archive in new records.
func OpenHistory(stateDir, source string) (*History, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	h := &History{
		MemoryTracker: NewMemoryTracker(),
		source:        source,
		path:          filepath.Join(stateDir, HistoryFileName),
		now:           time.Now,
	}
	if err := h.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open history for append: %w", err)
	}
	h.file = file
	h.writer = bufio.NewWriterSize(file, 64*1024)
	return h, nil
}

// load reads existing records. A torn final record, left by an interrupted
// run, is ignored.
func (h *History) load() error {
	file, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	for n := 1; ; n++ {
		var rec historyRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse history record %d: %w", n, err)
		}
		h.Observe(rec.Hash, rec.Index)
	}
}

// MarkProcessed records hash and appends it to the history file unless it
// is already known.
func (h *History) MarkProcessed(hash string, index int) error {
	if h.Observe(hash, index) || hash == "" {
		return nil
	}

	data, err := json.Marshal(historyRecord{Hash: hash, Index: index, Source: h.source, Exported: h.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.writer == nil {
		return errors.New("history is closed")
	}
	if _, err := h.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	return nil
}

// Flush writes buffered records to disk.
func (h *History) Flush() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.flushLocked()
}

func (h *History) flushLocked() error {
	if h.writer == nil {
		return nil
	}
	if err := h.writer.Flush(); err != nil {
		return fmt.Errorf("flush history: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("sync history: %w", err)
	}
	return nil
}

// Close flushes and closes the history file. Later marks fail.
func (h *History) Close() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.file == nil {
		return nil
	}

	err := h.flushLocked()
	if cerr := h.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close history: %w", cerr)
	}
	h.file = nil
	h.writer = nil
	return err
}
