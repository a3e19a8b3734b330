// Package ledger implements the append-only commitment store at the
// core of the audit trail. Each device identifier transitions at most
// once, from absent to recorded; the transition is atomic with respect
// to its own existence check, so concurrent commits for the same device
// resolve to exactly one success and one ErrDuplicateRecord.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"wipeledger/internal/proof"
	"wipeledger/internal/storage"
)

// Storage key prefixes.
var (
	prefixRecord   = []byte("r:")
	prefixOperator = []byte("o:")
	keyAdmin       = []byte("m:admin")
	keyPaused      = []byte("m:paused")
	keySequence    = []byte("m:seq")
)

// maxDeviceIDLen mirrors the proof input contract.
const maxDeviceIDLen = 100

// operatorEntry is the persisted registry entry for one operator.
type operatorEntry struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
	By      string `json:"by"`
	At      string `json:"at"`
}

// Info summarizes the ledger for status queries.
type Info struct {
	Admin   common.Address // Admin is the administrator identity
	Records int            // Records is the total committed record count
	Paused  bool           // Paused reports the administrative pause flag
}

// Ledger is the single-authority append-only record store.
// All state transitions happen under one mutex; reads of the in-memory
// maps take the same lock, so every operation observes a consistent
// snapshot.
type Ledger struct {
	mu          sync.Mutex
	store       *storage.Store
	admin       common.Address
	operators   map[common.Address]bool
	records     map[string]Record
	paused      bool
	seq         uint64
	lastTS      time.Time
	subscribers []func(Event)
}

// Open loads ledger state from the store. On first open the given
// administrator is persisted and authorized; on later opens the stored
// administrator wins and the argument is ignored.
func Open(store *storage.Store, admin common.Address) (*Ledger, error) {
	l := &Ledger{
		store:     store,
		operators: make(map[common.Address]bool),
		records:   make(map[string]Record),
	}

	if err := l.loadAdmin(admin); err != nil {
		return nil, err
	}
	if err := l.loadMeta(); err != nil {
		return nil, err
	}
	if err := l.loadOperators(); err != nil {
		return nil, err
	}
	if err := l.loadRecords(); err != nil {
		return nil, err
	}

	// The administrator can always commit.
	l.operators[l.admin] = true

	return l, nil
}

// loadAdmin restores or initializes the administrator identity.
func (l *Ledger) loadAdmin(admin common.Address) error {
	data, err := l.store.Get(keyAdmin)
	if err != nil {
		return fmt.Errorf("load admin:\n%w", err)
	}

	if data != nil {
		l.admin = common.HexToAddress(string(data))
		return nil
	}

	if admin == (common.Address{}) {
		return fmt.Errorf("%w: administrator address is required on first open", ErrValidation)
	}

	l.admin = admin

	return l.store.SetDurable(keyAdmin, []byte(admin.Hex()))
}

// loadMeta restores the pause flag and sequence counter.
func (l *Ledger) loadMeta() error {
	paused, err := l.store.Get(keyPaused)
	if err != nil {
		return fmt.Errorf("load pause flag:\n%w", err)
	}
	l.paused = string(paused) == "1"

	seq, err := l.store.Get(keySequence)
	if err != nil {
		return fmt.Errorf("load sequence:\n%w", err)
	}
	if len(seq) == 8 {
		l.seq = binary.BigEndian.Uint64(seq)
	}

	return nil
}

// loadOperators restores the operator registry.
func (l *Ledger) loadOperators() error {
	return l.store.IteratePrefix(prefixOperator, func(key, value []byte) error {
		var entry operatorEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("decode operator entry:\n%w", err)
		}

		if entry.Active {
			l.operators[common.HexToAddress(entry.Address)] = true
		}

		return nil
	})
}

// loadRecords restores all committed records, tracking the latest
// ledger timestamp so new commits stay monotonically non-decreasing.
func (l *Ledger) loadRecords() error {
	return l.store.IteratePrefix(prefixRecord, func(key, value []byte) error {
		rec, err := decodeRecord(value)
		if err != nil {
			return err
		}

		l.records[rec.DeviceID] = rec

		if rec.Timestamp.After(l.lastTS) {
			l.lastTS = rec.Timestamp
		}

		return nil
	})
}

// Commit appends a record for the device. Fails with ErrAccessControl
// for unauthorized operators, ErrPaused while paused, ErrValidation for
// malformed inputs, and ErrDuplicateRecord if the device already has a
// record. On success the record is durably stored before the method
// returns and a RecordCommitted event is emitted.
func (l *Ledger) Commit(deviceID string, digest proof.Digest, operator common.Address) (Record, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Record{}, err
	}
	if digest.IsZero() {
		return Record{}, fmt.Errorf("%w: digest is zero", ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.operators[operator] {
		return Record{}, fmt.Errorf("%w: %s", ErrAccessControl, operator.Hex())
	}
	if l.paused {
		return Record{}, ErrPaused
	}
	if _, exists := l.records[deviceID]; exists {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateRecord, deviceID)
	}

	seq := l.seq + 1
	ts := l.stampLocked()

	rec := Record{
		DeviceID:  deviceID,
		Digest:    digest,
		Timestamp: ts,
		Operator:  operator,
		Sequence:  seq,
		TxID:      txID(deviceID, digest, seq),
	}

	encoded, err := rec.encode()
	if err != nil {
		return Record{}, fmt.Errorf("encode record:\n%w", err)
	}

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	// Record and sequence counter land atomically and durably;
	// confirmation must never outrun persistence.
	err = l.store.SetBatch([]storage.KeyValue{
		{Key: recordKey(deviceID), Value: encoded},
		{Key: keySequence, Value: seqBuf[:]},
	})
	if err != nil {
		return Record{}, fmt.Errorf("persist record:\n%w", err)
	}

	l.records[deviceID] = rec
	l.seq = seq

	l.emit(Event{
		Type:      EventRecordCommitted,
		DeviceID:  deviceID,
		Digest:    digest,
		Timestamp: ts,
		Operator:  operator,
	})

	return rec, nil
}

// Get returns the record for a device, or ErrNotFound.
func (l *Ledger) Get(deviceID string) (Record, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[deviceID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}

	return rec, nil
}

// Verify reports whether the device's committed digest equals expected.
// An absent device returns false, not an error.
func (l *Ledger) Verify(deviceID string, expected proof.Digest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[deviceID]
	if !ok {
		return false
	}

	return rec.Digest == expected
}

// Processed reports whether the device already has a record.
func (l *Ledger) Processed(deviceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.records[deviceID]

	return ok
}

// Count returns the total number of committed records.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.records)
}

// Authorize adds an operator to the registry. Administrator only.
func (l *Ledger) Authorize(operator, by common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if by != l.admin {
		return fmt.Errorf("%w: only the administrator may authorize", ErrAccessControl)
	}
	if operator == (common.Address{}) {
		return fmt.Errorf("%w: zero operator address", ErrValidation)
	}

	ts := l.stampLocked()

	if err := l.persistOperator(operator, by, true, ts); err != nil {
		return err
	}

	l.operators[operator] = true

	l.emit(Event{
		Type:      EventOperatorAuthorized,
		Timestamp: ts,
		Operator:  operator,
		By:        by,
	})

	return nil
}

// Revoke removes an operator from the registry. Administrator only;
// revoking the administrator itself is rejected.
func (l *Ledger) Revoke(operator, by common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if by != l.admin {
		return fmt.Errorf("%w: only the administrator may revoke", ErrAccessControl)
	}
	if operator == l.admin {
		return fmt.Errorf("%w: administrator cannot be revoked", ErrValidation)
	}

	ts := l.stampLocked()

	if err := l.persistOperator(operator, by, false, ts); err != nil {
		return err
	}

	delete(l.operators, operator)

	l.emit(Event{
		Type:      EventOperatorRevoked,
		Timestamp: ts,
		Operator:  operator,
		By:        by,
	})

	return nil
}

// IsAuthorized reports whether the operator may commit records.
func (l *Ledger) IsAuthorized(operator common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.operators[operator]
}

// Pause blocks further commits. Administrator only; reads stay available.
func (l *Ledger) Pause(by common.Address) error {
	return l.setPaused(by, true)
}

// Unpause re-enables commits. Administrator only.
func (l *Ledger) Unpause(by common.Address) error {
	return l.setPaused(by, false)
}

// setPaused persists and applies the pause flag.
func (l *Ledger) setPaused(by common.Address, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if by != l.admin {
		return fmt.Errorf("%w: only the administrator may pause or unpause", ErrAccessControl)
	}

	value := []byte("0")
	if paused {
		value = []byte("1")
	}

	if err := l.store.SetDurable(keyPaused, value); err != nil {
		return fmt.Errorf("persist pause flag:\n%w", err)
	}

	l.paused = paused

	return nil
}

// IsPaused reports the administrative pause flag.
func (l *Ledger) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.paused
}

// Admin returns the administrator identity.
func (l *Ledger) Admin() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.admin
}

// Info returns a status summary.
func (l *Ledger) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Info{
		Admin:   l.admin,
		Records: len(l.records),
		Paused:  l.paused,
	}
}

// Records returns all committed records in sequence order.
// Used by the snapshot exporter.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}

	sortRecords(out)

	return out
}

// sortRecords orders records by sequence number.
func sortRecords(recs []Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].Sequence < recs[j-1].Sequence; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// persistOperator writes a registry entry. Caller holds l.mu.
func (l *Ledger) persistOperator(operator, by common.Address, active bool, ts time.Time) error {
	entry := operatorEntry{
		Address: operator.Hex(),
		Active:  active,
		By:      by.Hex(),
		At:      ts.Format(time.RFC3339Nano),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode operator entry:\n%w", err)
	}

	key := append(append([]byte{}, prefixOperator...), []byte(operator.Hex())...)

	if err := l.store.SetDurable(key, data); err != nil {
		return fmt.Errorf("persist operator entry:\n%w", err)
	}

	return nil
}

// stampLocked returns the next ledger timestamp, monotonically
// non-decreasing across all state transitions. Caller holds l.mu.
func (l *Ledger) stampLocked() time.Time {
	ts := time.Now().UTC()
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts

	return ts
}

// recordKey builds the storage key for a device record.
func recordKey(deviceID string) []byte {
	return append(append([]byte{}, prefixRecord...), []byte(deviceID)...)
}

// txID computes the ledger transaction id for a commit:
// keccak256(deviceID || digest || sequence).
func txID(deviceID string, digest proof.Digest, seq uint64) common.Hash {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)

	return crypto.Keccak256Hash([]byte(deviceID), digest[:], seqBuf[:])
}

// validateDeviceID checks the device identifier contract.
func validateDeviceID(deviceID string) error {
	if deviceID == "" || strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is empty", ErrValidation)
	}
	if len(deviceID) > maxDeviceIDLen {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrValidation, maxDeviceIDLen)
	}

	return nil
}
