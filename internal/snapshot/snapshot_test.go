package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/ledger"
	"wipeledger/internal/proof"
	"wipeledger/internal/storage"
)

var testAdmin = common.HexToAddress("0x00000000000000000000000000000000000000a1")

// newTestLedger opens a ledger over a temp store with two records.
func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l, err := ledger.Open(store, testAdmin)
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}

	for _, device := range []string{"DEV-001", "DEV-002"} {
		ts := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

		digest, err := proof.ComputeDigest(proof.Input{
			DeviceID:  device,
			Method:    proof.MethodPurge,
			Passes:    3,
			StartTime: ts,
			EndTime:   ts.Add(time.Hour),
			Operator:  "op-a",
		})
		if err != nil {
			t.Fatalf("ComputeDigest failed: %v", err)
		}

		if _, err := l.Commit(device, digest, testAdmin); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	return l
}

func TestExportRoundTrip(t *testing.T) {
	l := newTestLedger(t)

	data, err := Create(l)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exp, err := Open(data)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if exp.Admin != testAdmin.Hex() {
		t.Errorf("Admin = %s, want %s", exp.Admin, testAdmin.Hex())
	}
	if len(exp.Records) != 2 {
		t.Fatalf("export holds %d records, want 2", len(exp.Records))
	}

	// Sequence order.
	if exp.Records[0].Sequence >= exp.Records[1].Sequence {
		t.Error("records not in sequence order")
	}
}

func TestExportChecksumStable(t *testing.T) {
	l := newTestLedger(t)

	first, err := Create(l)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second, err := Create(l)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	e1, err := Open(first)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e2, err := Open(second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if e1.Checksum != e2.Checksum {
		t.Error("re-export of an unchanged ledger produced a different checksum")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	l := newTestLedger(t)

	data, err := Create(l)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exp, err := Open(data)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Rewrite a record without refreshing the checksum.
	exp.Records[0].Digest = strings.Repeat("00", 32)

	raw, err := json.Marshal(exp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	forged, err := compress(raw)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	if _, err := Open(forged); err == nil {
		t.Error("Open accepted a tampered export")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := Open([]byte("not an archive")); err == nil {
		t.Error("Open accepted garbage input")
	}
}
