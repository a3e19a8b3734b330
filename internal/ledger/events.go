package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/proof"
)

// EventType identifies a ledger state change.
type EventType string

const (
	// EventRecordCommitted fires when a device record is committed.
	EventRecordCommitted EventType = "record_committed"
	// EventOperatorAuthorized fires when an operator is added.
	EventOperatorAuthorized EventType = "operator_authorized"
	// EventOperatorRevoked fires when an operator is removed.
	EventOperatorRevoked EventType = "operator_revoked"
)

// Event describes one ledger state transition. Events for a given
// device are delivered in the order the transitions were applied.
type Event struct {
	Type      EventType      // Type is the kind of state change
	DeviceID  string         // DeviceID is set for record commits
	Digest    proof.Digest   // Digest is set for record commits
	Timestamp time.Time      // Timestamp is the ledger-assigned time
	Operator  common.Address // Operator is the subject of the event
	By        common.Address // By is the administrator, for registry events
}

// Subscribe registers a handler invoked synchronously for every event,
// in transition order. Handlers run while the ledger lock is held and
// must not call back into the ledger.
func (l *Ledger) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subscribers = append(l.subscribers, fn)
}

// emit delivers an event to all subscribers. Caller holds l.mu.
func (l *Ledger) emit(ev Event) {
	for _, fn := range l.subscribers {
		fn(ev)
	}
}
