// Package verify checks proof bundles against locally cached ledger
// records. Verification is fully offline: the cache is written at
// commit time and consulted here without any network access.
package verify

import (
	"strings"
	"time"

	"wipeledger/internal/proof"
)

// Status classifies an offline verification outcome.
type Status int

const (
	// StatusValid means the bundle matches the cached record.
	StatusValid Status = iota
	// StatusStale means a cached record exists but disagrees with the
	// bundle, a tamper signal.
	StatusStale
	// StatusUnknown means no cached record exists for the device.
	StatusUnknown
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusStale:
		return "stale"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Result is the outcome of one offline verification.
type Result struct {
	Status Status // Status is the verification outcome
	Reason string // Reason explains non-valid outcomes
}

// CachedRecord is the locally stored snapshot of a confirmed commit.
type CachedRecord struct {
	DeviceID        string    `json:"device_id"`        // DeviceID is the device identifier
	Digest          string    `json:"digest"`           // Digest is the committed digest, hex
	LedgerTx        string    `json:"ledger_tx"`        // LedgerTx is the ledger transaction id
	Sequence        uint64    `json:"sequence"`         // Sequence is the ledger sequence number
	CommitTimestamp time.Time `json:"commit_timestamp"` // CommitTimestamp is the ledger-assigned time
	Operator        string    `json:"operator"`         // Operator is the committing identity
}

// Verify checks a proof bundle against a cached record without any
// network access. A structurally malformed bundle is a caller input
// error, not a tamper signal, and fails with a validation error. A
// nil cached record yields StatusUnknown; a cached record that
// disagrees with the bundle yields StatusStale.
func Verify(bundle proof.Bundle, cached *CachedRecord) (Result, error) {
	if err := bundle.Validate(); err != nil {
		return Result{}, err
	}

	if cached == nil {
		return Result{Status: StatusUnknown, Reason: "no local record for device"}, nil
	}

	if cached.DeviceID != bundle.DeviceID {
		return Result{Status: StatusStale, Reason: "cached record belongs to a different device"}, nil
	}

	if !strings.EqualFold(cached.Digest, bundle.Digest) {
		return Result{Status: StatusStale, Reason: "digest mismatch"}, nil
	}

	if !strings.EqualFold(cached.LedgerTx, bundle.LedgerTx) {
		return Result{Status: StatusStale, Reason: "ledger transaction mismatch"}, nil
	}

	if cached.Sequence != bundle.Sequence {
		return Result{Status: StatusStale, Reason: "sequence mismatch"}, nil
	}

	return Result{Status: StatusValid}, nil
}
