// Package snapshot exports the full ledger as a compressed, checksummed
// archive for external auditors. The export is deterministic for a
// given ledger state, so two auditors can compare checksums.
package snapshot

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"wipeledger/internal/ledger"
)

// formatVersion is the current export format version.
const formatVersion = 1

// Export is the decoded content of a ledger archive.
type Export struct {
	Version    int            `json:"version"`     // Version is the export format version
	Admin      string         `json:"admin"`       // Admin is the ledger administrator
	ExportedAt time.Time      `json:"exported_at"` // ExportedAt is the export time
	Records    []ExportRecord `json:"records"`     // Records are all commits, sequence order
	Checksum   string         `json:"checksum"`    // Checksum covers version and records
}

// ExportRecord is one exported ledger record.
type ExportRecord struct {
	DeviceID  string `json:"device_id"`
	Digest    string `json:"digest"`
	Timestamp string `json:"timestamp"`
	Operator  string `json:"operator"`
	Sequence  uint64 `json:"sequence"`
	TxID      string `json:"tx_id"`
}

// Create exports the ledger into a zstd-compressed archive.
func Create(l *ledger.Ledger) ([]byte, error) {
	exp := Export{
		Version:    formatVersion,
		Admin:      l.Admin().Hex(),
		ExportedAt: time.Now().UTC(),
	}

	for _, rec := range l.Records() {
		exp.Records = append(exp.Records, ExportRecord{
			DeviceID:  rec.DeviceID,
			Digest:    rec.Digest.Hex(),
			Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
			Operator:  rec.Operator.Hex(),
			Sequence:  rec.Sequence,
			TxID:      rec.TxID.Hex(),
		})
	}

	exp.Checksum = checksum(exp)

	data, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("encode export:\n%w", err)
	}

	return compress(data)
}

// Open decompresses and decodes an archive, verifying its checksum.
func Open(data []byte) (Export, error) {
	raw, err := decompress(data)
	if err != nil {
		return Export{}, err
	}

	var exp Export
	if err := json.Unmarshal(raw, &exp); err != nil {
		return Export{}, fmt.Errorf("decode export:\n%w", err)
	}

	if exp.Version != formatVersion {
		return Export{}, fmt.Errorf("unsupported export version %d", exp.Version)
	}

	if exp.Checksum != checksum(exp) {
		return Export{}, fmt.Errorf("export checksum mismatch")
	}

	return exp, nil
}

// checksum hashes the version and the records in sequence order. The
// export time is excluded so re-exports of an unchanged ledger agree.
func checksum(exp Export) string {
	h := blake3.New()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "v%d\n", exp.Version)
	fmt.Fprintf(&buf, "%s\n", exp.Admin)

	for _, rec := range exp.Records {
		fmt.Fprintf(&buf, "%d|%s|%s|%s|%s|%s\n",
			rec.Sequence, rec.DeviceID, rec.Digest, rec.Timestamp, rec.Operator, rec.TxID)
	}

	h.Write(buf.Bytes())

	return hex.EncodeToString(h.Sum(nil))
}

// compress compresses archive data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd archive data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress export:\n%w", err)
	}

	return raw, nil
}
