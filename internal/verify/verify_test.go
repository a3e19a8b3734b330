package verify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"wipeledger/internal/proof"
)

// testBundle builds a structurally valid bundle.
func testBundle() proof.Bundle {
	return proof.Bundle{
		DeviceID:        "DEV-001",
		Digest:          strings.Repeat("ab", 32),
		LedgerTx:        "0x" + strings.Repeat("cd", 32),
		Sequence:        3,
		CommitTimestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Operator:        "0x00000000000000000000000000000000000000b2",
	}
}

// cacheFor derives the cached record matching a bundle.
func cacheFor(b proof.Bundle) CachedRecord {
	return CachedRecord{
		DeviceID:        b.DeviceID,
		Digest:          b.Digest,
		LedgerTx:        b.LedgerTx,
		Sequence:        b.Sequence,
		CommitTimestamp: b.CommitTimestamp,
		Operator:        b.Operator,
	}
}

func TestVerifyValid(t *testing.T) {
	bundle := testBundle()
	cached := cacheFor(bundle)

	res, err := Verify(bundle, &cached)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Status != StatusValid {
		t.Errorf("Status = %v (%s), want valid", res.Status, res.Reason)
	}
}

func TestVerifyUnknown(t *testing.T) {
	res, err := Verify(testBundle(), nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Status != StatusUnknown {
		t.Errorf("Status = %v, want unknown", res.Status)
	}
}

func TestVerifyStale(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CachedRecord)
	}{
		{"digest mismatch", func(r *CachedRecord) { r.Digest = strings.Repeat("ef", 32) }},
		{"tx mismatch", func(r *CachedRecord) { r.LedgerTx = "0x" + strings.Repeat("00", 32) }},
		{"sequence mismatch", func(r *CachedRecord) { r.Sequence++ }},
		{"different device", func(r *CachedRecord) { r.DeviceID = "DEV-002" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bundle := testBundle()
			cached := cacheFor(bundle)
			tc.mutate(&cached)

			res, err := Verify(bundle, &cached)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if res.Status != StatusStale {
				t.Errorf("Status = %v, want stale", res.Status)
			}
			if res.Reason == "" {
				t.Error("stale result has no reason")
			}
		})
	}
}

func TestVerifyDigestCaseInsensitive(t *testing.T) {
	bundle := testBundle()
	cached := cacheFor(bundle)
	cached.Digest = strings.ToUpper(cached.Digest)

	res, err := Verify(bundle, &cached)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Status != StatusValid {
		t.Errorf("Status = %v (%s), want valid for case-differing hex", res.Status, res.Reason)
	}
}

func TestVerifyMalformedBundle(t *testing.T) {
	// A bundle that fails structural validation is a caller input
	// error, never stale: stale is reserved for tamper evidence.
	bundle := testBundle()
	bundle.LedgerTx = "0x1234"

	cached := cacheFor(bundle)

	if _, err := Verify(bundle, &cached); !errors.Is(err, proof.ErrValidation) {
		t.Errorf("Verify error = %v, want ErrValidation", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	bundle := testBundle()
	if err := store.Put(cacheFor(bundle)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := store.Get(bundle.DeviceID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Digest != bundle.Digest || rec.Sequence != bundle.Sequence {
		t.Errorf("cached record mismatch: %+v", rec)
	}

	res, err := store.VerifyBundle(bundle)
	if err != nil {
		t.Fatalf("VerifyBundle failed: %v", err)
	}
	if res.Status != StatusValid {
		t.Errorf("Status = %v (%s), want valid", res.Status, res.Reason)
	}
}

func TestStoreMissingDevice(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	if _, err := store.Get("DEV-404"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("Get error = %v, want ErrNoRecord", err)
	}

	bundle := testBundle()
	bundle.DeviceID = "DEV-404"

	res, err := store.VerifyBundle(bundle)
	if err != nil {
		t.Fatalf("VerifyBundle failed: %v", err)
	}
	if res.Status != StatusUnknown {
		t.Errorf("Status = %v, want unknown", res.Status)
	}
}

func TestStoreEscapesDeviceID(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	bundle := testBundle()
	bundle.DeviceID = "rack/7/slot 3"

	if err := store.Put(cacheFor(bundle)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := store.Get(bundle.DeviceID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.DeviceID != bundle.DeviceID {
		t.Errorf("DeviceID = %q, want %q", rec.DeviceID, bundle.DeviceID)
	}

	devices, err := store.Devices()
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0] != bundle.DeviceID {
		t.Errorf("Devices = %v, want [%q]", devices, bundle.DeviceID)
	}
}
