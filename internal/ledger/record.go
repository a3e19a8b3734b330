package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/proof"
)

// Record is one immutable ledger entry. A device identifier maps to at
// most one record; once written it is never updated or deleted.
type Record struct {
	DeviceID  string         // DeviceID is the unique record key
	Digest    proof.Digest   // Digest is the committed proof digest
	Timestamp time.Time      // Timestamp is ledger-assigned, non-decreasing across records
	Operator  common.Address // Operator is the committing identity
	Sequence  uint64         // Sequence is the global commit sequence number
	TxID      common.Hash    // TxID is the ledger transaction id
}

// storedRecord is the persisted JSON shape of a Record.
type storedRecord struct {
	DeviceID  string `json:"device_id"`
	Digest    string `json:"digest"`
	Timestamp string `json:"timestamp"`
	Operator  string `json:"operator"`
	Sequence  uint64 `json:"sequence"`
	TxID      string `json:"tx_id"`
}

// encode serializes a record for storage.
func (r Record) encode() ([]byte, error) {
	return json.Marshal(storedRecord{
		DeviceID:  r.DeviceID,
		Digest:    r.Digest.Hex(),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Operator:  r.Operator.Hex(),
		Sequence:  r.Sequence,
		TxID:      r.TxID.Hex(),
	})
}

// decodeRecord deserializes a stored record.
func decodeRecord(data []byte) (Record, error) {
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return Record{}, fmt.Errorf("decode record:\n%w", err)
	}

	digest, err := proof.ParseDigest(s.Digest)
	if err != nil {
		return Record{}, fmt.Errorf("decode record digest:\n%w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("decode record timestamp:\n%w", err)
	}

	return Record{
		DeviceID:  s.DeviceID,
		Digest:    digest,
		Timestamp: ts,
		Operator:  common.HexToAddress(s.Operator),
		Sequence:  s.Sequence,
		TxID:      common.HexToHash(s.TxID),
	}, nil
}

// Bundle converts the record into the privacy-safe payload handed to
// the certificate collaborator and to offline verification.
func (r Record) Bundle() proof.Bundle {
	return proof.Bundle{
		DeviceID:        r.DeviceID,
		Digest:          r.Digest.Hex(),
		LedgerTx:        r.TxID.Hex(),
		Sequence:        r.Sequence,
		CommitTimestamp: r.Timestamp,
		Operator:        r.Operator.Hex(),
	}
}
