// Package cert issues destruction certificates from confirmed proof
// bundles. The pipeline hands over a bundle and nothing else; rendering
// and storage are this package's concern.
package cert

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"wipeledger/internal/privacy"
	"wipeledger/internal/proof"
)

// Certifier turns a confirmed proof bundle into a certificate.
type Certifier interface {
	Certify(ctx context.Context, bundle proof.Bundle) (Certificate, error)
}

// Certificate is an issued destruction certificate.
type Certificate struct {
	DeviceID         string    `json:"device_id"`         // DeviceID is the certified device
	Digest           string    `json:"digest"`            // Digest is the committed proof digest
	LedgerTx         string    `json:"ledger_tx"`         // LedgerTx is the ledger transaction id
	Sequence         uint64    `json:"sequence"`          // Sequence is the ledger sequence number
	CommitTimestamp  time.Time `json:"commit_timestamp"`  // CommitTimestamp is the ledger-assigned time
	Operator         string    `json:"operator"`          // Operator is the committing identity
	IssuedAt         time.Time `json:"issued_at"`         // IssuedAt is the certificate issue time
	VerificationCode string    `json:"verification_code"` // VerificationCode is the short check code
	CertificateHash  string    `json:"certificate_hash"`  // CertificateHash commits to the content above
}

// Writer issues JSON certificates into a directory, one file per
// device. Every certificate passes privacy review before it is written.
type Writer struct {
	dir    string
	filter *privacy.Filter
	now    func() time.Time
}

// NewWriter creates a certificate writer rooted at dir.
func NewWriter(dir string, filter *privacy.Filter) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create certificate directory:\n%w", err)
	}

	return &Writer{dir: dir, filter: filter, now: time.Now}, nil
}

// Certify validates and reviews the bundle, then renders and stores the
// certificate. A privacy violation aborts issuance.
func (w *Writer) Certify(_ context.Context, bundle proof.Bundle) (Certificate, error) {
	if err := bundle.Validate(); err != nil {
		return Certificate{}, err
	}

	c := Certificate{
		DeviceID:        bundle.DeviceID,
		Digest:          bundle.Digest,
		LedgerTx:        bundle.LedgerTx,
		Sequence:        bundle.Sequence,
		CommitTimestamp: bundle.CommitTimestamp,
		Operator:        bundle.Operator,
		IssuedAt:        w.now().UTC(),
	}

	res := w.filter.Review(c.fields(), privacy.ContextCertificate)
	if err := res.Err(); err != nil {
		return Certificate{}, err
	}

	sum := c.contentHash()
	c.CertificateHash = hex.EncodeToString(sum[:])
	c.VerificationCode = verificationCode(sum)

	if err := w.write(c); err != nil {
		return Certificate{}, err
	}

	return c, nil
}

// fields flattens the certificate content for privacy review.
func (c Certificate) fields() map[string]string {
	return map[string]string{
		"device_id": c.DeviceID,
		"digest":    c.Digest,
		"ledger_tx": c.LedgerTx,
		"sequence":  strconv.FormatUint(c.Sequence, 10),
		"timestamp": c.CommitTimestamp.UTC().Format(time.RFC3339),
		"operator":  c.Operator,
	}
}

// contentHash commits to the certificate content, excluding the hash
// and code fields themselves.
func (c Certificate) contentHash() [32]byte {
	h := blake3.New()

	for _, part := range []string{
		c.DeviceID,
		c.Digest,
		c.LedgerTx,
		strconv.FormatUint(c.Sequence, 10),
		c.CommitTimestamp.UTC().Format(time.RFC3339Nano),
		c.Operator,
		c.IssuedAt.Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	return sum
}

// verificationCode derives the short human-checkable code printed on
// the certificate.
func verificationCode(sum [32]byte) string {
	return fmt.Sprintf("%02X%02X-%02X%02X", sum[0], sum[1], sum[2], sum[3])
}

// write stores the certificate through a temp file and rename.
func (w *Writer) write(c Certificate) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode certificate:\n%w", err)
	}

	path := filepath.Join(w.dir, url.PathEscape(c.DeviceID)+".json")
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write certificate:\n%w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish certificate:\n%w", err)
	}

	return nil
}

// Load reads a previously issued certificate for a device.
func (w *Writer) Load(deviceID string) (Certificate, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, url.PathEscape(deviceID)+".json"))
	if err != nil {
		return Certificate{}, fmt.Errorf("read certificate:\n%w", err)
	}

	var c Certificate
	if err := json.Unmarshal(data, &c); err != nil {
		return Certificate{}, fmt.Errorf("decode certificate:\n%w", err)
	}

	return c, nil
}

// Check recomputes the certificate hash and compares it to the stored
// value, detecting post-issuance edits.
func (c Certificate) Check() error {
	sum := c.contentHash()

	if hex.EncodeToString(sum[:]) != c.CertificateHash {
		return fmt.Errorf("%w: certificate hash mismatch", proof.ErrValidation)
	}
	if verificationCode(sum) != c.VerificationCode {
		return fmt.Errorf("%w: verification code mismatch", proof.ErrValidation)
	}

	return nil
}
