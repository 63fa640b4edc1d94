package dedupe

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryTracker_Observe(t *testing.T) {
	tracker := NewMemoryTracker()

	if tracker.Observe("a", 0) {
		t.Fatal("first observation must report unseen")
	}
	if !tracker.Observe("a", 3) {
		t.Fatal("second observation must report seen")
	}
	if tracker.Observe("", 4) {
		t.Fatal("empty hash is never a duplicate")
	}
	if got := tracker.Snapshot().Processed; got != 1 {
		t.Fatalf("Processed = %d, want 1", got)
	}
	if idx, ok := tracker.FirstIndex("a"); !ok || idx != 0 {
		t.Fatalf("FirstIndex(a) = %d, %v, want 0, true", idx, ok)
	}
}

func TestHistory_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenHistory(dir, "inbox.mbox")
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	for i, hash := range []string{"hash-1", "hash-2", "hash-1"} {
		if err := first.MarkProcessed(hash, i); err != nil {
			t.Fatalf("MarkProcessed(%s) error = %v", hash, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := OpenHistory(dir, "inbox.mbox")
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer second.Close()

	if !second.AlreadyProcessed("hash-1") || !second.AlreadyProcessed("hash-2") {
		t.Fatal("expected hashes from the previous run to be loaded")
	}
	if second.AlreadyProcessed("hash-3") {
		t.Fatal("unexpected hash reported as processed")
	}
	if got := second.Snapshot().Processed; got != 2 {
		t.Fatalf("Processed = %d, want 2", got)
	}
}

func TestHistory_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	exported := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	h, err := OpenHistory(dir, "archive.mbox")
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	h.now = func() time.Time { return exported }
	if err := h.MarkProcessed("abc", 7); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	file, err := os.Open(filepath.Join(dir, HistoryFileName))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines int
	for scanner.Scan() {
		lines++
		var rec historyRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("record %d: %v", lines, err)
		}
		want := historyRecord{Hash: "abc", Index: 7, Source: "archive.mbox", Exported: exported}
		if rec != want {
			t.Fatalf("record = %+v, want %+v", rec, want)
		}
	}
	if lines != 1 {
		t.Fatalf("history has %d records, want 1", lines)
	}
}

func TestHistory_TornLastRecord(t *testing.T) {
	dir := t.TempDir()
	content := `{"hash":"one","index":0,"exported":"2024-01-01T00:00:00Z"}` + "\n" + `{"hash":"tw`
	if err := os.WriteFile(filepath.Join(dir, HistoryFileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	h, err := OpenHistory(dir, "")
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer h.Close()

	if !h.AlreadyProcessed("one") {
		t.Fatal("complete record was not loaded")
	}
	if h.AlreadyProcessed("tw") {
		t.Fatal("torn record must be ignored")
	}
}

func TestHistory_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	content := "{\"hash\":\"one\"}\nnot json\n"
	if err := os.WriteFile(filepath.Join(dir, HistoryFileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenHistory(dir, ""); err == nil {
		t.Fatal("expected error for corrupt history")
	}
}

func TestHistory_MarkAfterClose(t *testing.T) {
	h, err := OpenHistory(t.TempDir(), "")
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := h.MarkProcessed("late", 0); err == nil {
		t.Fatal("expected error when marking after Close")
	}
}

func TestOpenHistory_EmptyDir(t *testing.T) {
	if _, err := OpenHistory("  ", ""); err == nil {
		t.Fatal("expected error for empty state directory")
	}
}
