package cert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wipeledger/internal/privacy"
	"wipeledger/internal/proof"
)

// newTestWriter creates a writer in a temp directory with a frozen clock.
func newTestWriter(t *testing.T) *Writer {
	t.Helper()

	w, err := NewWriter(t.TempDir(), privacy.New())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }

	return w
}

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

func TestCertifyAndLoad(t *testing.T) {
	w := newTestWriter(t)

	c, err := w.Certify(context.Background(), testBundle())
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}

	if c.CertificateHash == "" || c.VerificationCode == "" {
		t.Fatalf("certificate missing hash or code: %+v", c)
	}
	if err := c.Check(); err != nil {
		t.Errorf("fresh certificate fails its own check: %v", err)
	}

	loaded, err := w.Load("DEV-001")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.CertificateHash != c.CertificateHash {
		t.Error("loaded certificate hash differs")
	}
	if err := loaded.Check(); err != nil {
		t.Errorf("loaded certificate fails check: %v", err)
	}
}

func TestCertifyRejectsMalformedBundle(t *testing.T) {
	w := newTestWriter(t)

	bundle := testBundle()
	bundle.LedgerTx = "not-a-tx"

	if _, err := w.Certify(context.Background(), bundle); !errors.Is(err, proof.ErrValidation) {
		t.Errorf("Certify error = %v, want ErrValidation", err)
	}
}

func TestCertifyRejectsSensitiveContent(t *testing.T) {
	w := newTestWriter(t)

	bundle := testBundle()
	bundle.Operator = "alice@example.com"

	if _, err := w.Certify(context.Background(), bundle); !errors.Is(err, privacy.ErrViolation) {
		t.Errorf("Certify error = %v, want ErrViolation", err)
	}
}

func TestCheckDetectsTampering(t *testing.T) {
	w := newTestWriter(t)

	c, err := w.Certify(context.Background(), testBundle())
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}

	c.Sequence++
	if err := c.Check(); err == nil {
		t.Error("Check passed on a tampered certificate")
	}
}

func TestCertificateHashDeterministic(t *testing.T) {
	w := newTestWriter(t)

	c1, err := w.Certify(context.Background(), testBundle())
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}

	c2, err := w.Certify(context.Background(), testBundle())
	if err != nil {
		t.Fatalf("second Certify failed: %v", err)
	}

	if c1.CertificateHash != c2.CertificateHash {
		t.Error("same bundle and clock produced different certificate hashes")
	}
}
