package proof

import (
	"fmt"
	"strings"
	"time"
)

// txIDHexLen is the length of a ledger transaction id without the 0x prefix.
const txIDHexLen = 64

// Bundle is the minimal privacy-safe payload referencing a ledger
// commitment. It is handed to the certificate collaborator and to
// offline verification; it carries identifiers and cryptographic
// commitments only, never raw operation content.
type Bundle struct {
	DeviceID        string    `json:"device_id"`
	Digest          string    `json:"digest"`           // hex-encoded proof digest
	LedgerTx        string    `json:"ledger_tx"`        // 0x-prefixed transaction id
	Sequence        uint64    `json:"sequence"`         // ledger sequence number
	CommitTimestamp time.Time `json:"commit_timestamp"` // ledger-assigned timestamp
	Operator        string    `json:"operator"`         // committing operator identity
}

// Validate checks that the bundle is structurally complete.
func (b Bundle) Validate() error {
	if b.DeviceID == "" {
		return fmt.Errorf("%w: bundle device id is empty", ErrValidation)
	}
	if _, err := ParseDigest(b.Digest); err != nil {
		return fmt.Errorf("%w: bundle digest is malformed", ErrValidation)
	}
	if err := ValidateTxID(b.LedgerTx); err != nil {
		return err
	}
	if b.CommitTimestamp.IsZero() {
		return fmt.Errorf("%w: bundle commit timestamp is zero", ErrValidation)
	}
	if b.Operator == "" {
		return fmt.Errorf("%w: bundle operator is empty", ErrValidation)
	}

	return nil
}

// ValidateTxID checks the format of a ledger transaction id:
// "0x" followed by 64 hex characters.
func ValidateTxID(tx string) error {
	body, ok := strings.CutPrefix(tx, "0x")
	if !ok || len(body) != txIDHexLen {
		return fmt.Errorf("%w: ledger tx id must be 0x followed by %d hex characters", ErrValidation, txIDHexLen)
	}

	for _, c := range body {
		if !isHexChar(c) {
			return fmt.Errorf("%w: ledger tx id contains non-hex character", ErrValidation)
		}
	}

	return nil
}

// isHexChar reports whether c is a lowercase or uppercase hex digit.
func isHexChar(c rune) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}
