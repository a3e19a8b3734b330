package journal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestJournal opens a journal in a temp directory.
func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	return j
}

// testEntry builds a successful run entry.
func testEntry(opID, deviceID string) Entry {
	started := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	return Entry{
		OperationID: opID,
		DeviceID:    deviceID,
		Digest:      strings.Repeat("ab", 32),
		LedgerTx:    "0x" + strings.Repeat("cd", 32),
		Sequence:    1,
		Step:        "certified",
		Success:     true,
		StartedAt:   started,
		FinishedAt:  started.Add(120 * time.Millisecond),
	}
}

func TestRecordAndList(t *testing.T) {
	j := newTestJournal(t)

	id, err := j.Record(testEntry("op-1", "DEV-001"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == 0 {
		t.Error("Record returned zero row id")
	}

	entries, err := j.List("", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.OperationID != "op-1" || e.DeviceID != "DEV-001" || !e.Success {
		t.Errorf("entry mismatch: %+v", e)
	}
	if !e.FinishedAt.After(e.StartedAt) {
		t.Errorf("timestamps did not round-trip: %v vs %v", e.StartedAt, e.FinishedAt)
	}
}

func TestListByDevice(t *testing.T) {
	j := newTestJournal(t)

	for i, device := range []string{"DEV-001", "DEV-002", "DEV-001"} {
		e := testEntry("op-"+string(rune('a'+i)), device)
		if _, err := j.Record(e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := j.List("DEV-001", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}

	// Newest first.
	if entries[0].ID < entries[1].ID {
		t.Error("entries not ordered newest first")
	}
}

func TestFailures(t *testing.T) {
	j := newTestJournal(t)

	ok := testEntry("op-ok", "DEV-001")
	if _, err := j.Record(ok); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	failed := testEntry("op-bad", "DEV-002")
	failed.Success = false
	failed.Step = "commit"
	failed.ErrorKind = "duplicate_record"
	failed.LedgerTx = ""
	failed.Sequence = 0

	if _, err := j.Record(failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	failures, err := j.Failures(10)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Failures returned %d entries, want 1", len(failures))
	}
	if failures[0].OperationID != "op-bad" || failures[0].ErrorKind != "duplicate_record" {
		t.Errorf("failure entry mismatch: %+v", failures[0])
	}
}

func TestDuplicateOperationIDRejected(t *testing.T) {
	j := newTestJournal(t)

	if _, err := j.Record(testEntry("op-1", "DEV-001")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := j.Record(testEntry("op-1", "DEV-002")); err == nil {
		t.Error("duplicate operation id accepted")
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := j.Record(testEntry("op-1", "DEV-001")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j2.Close()

	entries, err := j2.List("", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List after reopen returned %d entries, want 1", len(entries))
	}
}
