// Package audit runs the proof pipeline: hash the operation result,
// review it for sensitive content, commit the digest to the ledger, and
// hand the confirmed bundle to the certificate collaborator. Steps run
// strictly in order and any failure halts the run.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wipeledger/client"
	"wipeledger/internal/cert"
	"wipeledger/internal/journal"
	"wipeledger/internal/ledger"
	"wipeledger/internal/logger"
	"wipeledger/internal/privacy"
	"wipeledger/internal/proof"
	"wipeledger/internal/verify"
)

// Step identifies a pipeline stage.
type Step int

const (
	// StepHash computes the canonical digest.
	StepHash Step = iota
	// StepFilter reviews the record for sensitive content.
	StepFilter
	// StepCommit submits the digest to the ledger.
	StepCommit
	// StepCertify caches the confirmed bundle and issues the certificate.
	StepCertify
	// StepCertified is the terminal success state.
	StepCertified
)

// String returns the lowercase step name.
func (s Step) String() string {
	switch s {
	case StepHash:
		return "hash"
	case StepFilter:
		return "filter"
	case StepCommit:
		return "commit"
	case StepCertify:
		return "certify"
	case StepCertified:
		return "certified"
	default:
		return "invalid"
	}
}

// PipelineError reports the step a run failed at. The run is terminal;
// no later step executed.
type PipelineError struct {
	Step Step  // Step is the stage that failed
	Err  error // Err is the underlying failure
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s:\n%v", e.Step, e.Err)
}

// Unwrap exposes the underlying failure for errors.Is classification.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Committer is the ledger gateway the pipeline commits through.
// Satisfied by client.Client.
type Committer interface {
	Commit(ctx context.Context, deviceID string, digest proof.Digest) (client.CommitReceipt, error)
	Get(ctx context.Context, deviceID string) (ledger.Record, error)
}

// Operation is one pipeline input: the result of a completed wipe.
type Operation struct {
	ID    string      // ID identifies the run; generated when empty
	Input proof.Input // Input is the operation result to commit
}

// Orchestrator drives the pipeline. Construct once and share; all
// methods are safe for concurrent use across distinct devices because
// the ledger resolves same-device races itself.
type Orchestrator struct {
	committer Committer
	certifier cert.Certifier
	filter    *privacy.Filter
	journal   *journal.Journal
	cache     *verify.Store
	stats     Stats
	now       func() time.Time
}

// Options configures optional collaborators. Committer and Filter are
// required; a nil Certifier skips certification, a nil Journal skips
// journaling, a nil Cache skips the offline verification cache.
type Options struct {
	Committer Committer
	Filter    *privacy.Filter
	Certifier cert.Certifier
	Journal   *journal.Journal
	Cache     *verify.Store
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Committer == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a committer", proof.ErrValidation)
	}
	if opts.Filter == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a privacy filter", proof.ErrValidation)
	}

	return &Orchestrator{
		committer: opts.Committer,
		certifier: opts.Certifier,
		filter:    opts.Filter,
		journal:   opts.Journal,
		cache:     opts.Cache,
		now:       time.Now,
	}, nil
}

// Process runs the full pipeline for one operation and returns the
// confirmed proof bundle. Any step failure halts the run, is journaled
// with a sanitized error kind, and no later step executes.
func (o *Orchestrator) Process(ctx context.Context, op Operation) (proof.Bundle, error) {
	if op.ID == "" {
		op.ID = newOperationID()
	}

	started := o.now()
	o.stats.recordStart()

	bundle, step, err := o.run(ctx, op)
	finished := o.now()

	entry := journal.Entry{
		OperationID: op.ID,
		DeviceID:    op.Input.DeviceID,
		Step:        step.String(),
		StartedAt:   started,
		FinishedAt:  finished,
	}

	if err != nil {
		kind := errorKind(err)
		o.stats.recordFailure(step, finished.Sub(started))

		entry.Success = false
		entry.ErrorKind = kind
		if step > StepHash {
			entry.Digest = bundle.Digest
		}

		logger.Error("pipeline run failed",
			"operation_id", op.ID,
			"device_id", op.Input.DeviceID,
			"step", step.String(),
			"error_kind", kind,
		)

		o.journalEntry(entry)

		return proof.Bundle{}, &PipelineError{Step: step, Err: err}
	}

	o.stats.recordSuccess(finished.Sub(started))

	entry.Success = true
	entry.Digest = bundle.Digest
	entry.LedgerTx = bundle.LedgerTx
	entry.Sequence = bundle.Sequence

	logger.Info("pipeline run certified",
		"operation_id", op.ID,
		"device_id", op.Input.DeviceID,
		"ledger_tx", bundle.LedgerTx,
		"sequence", bundle.Sequence,
		"duration", finished.Sub(started),
	)

	o.journalEntry(entry)

	return bundle, nil
}

// run executes the pipeline steps in order and reports the step reached.
// Each step's output is the next step's required input.
func (o *Orchestrator) run(ctx context.Context, op Operation) (proof.Bundle, Step, error) {
	digest, err := proof.ComputeDigest(op.Input)
	if err != nil {
		return proof.Bundle{}, StepHash, err
	}

	partial := proof.Bundle{
		DeviceID: op.Input.DeviceID,
		Digest:   digest.Hex(),
		Operator: op.Input.Operator,
	}

	res := o.filter.Review(o.ledgerFields(op.Input, digest), privacy.ContextLedger)
	if err := res.Err(); err != nil {
		return partial, StepFilter, err
	}

	receipt, err := o.commit(ctx, op.Input.DeviceID, digest)
	if err != nil {
		return partial, StepCommit, err
	}

	bundle := receipt.Bundle()

	if o.cache != nil {
		if err := o.cache.Put(verify.CachedRecord{
			DeviceID:        bundle.DeviceID,
			Digest:          bundle.Digest,
			LedgerTx:        bundle.LedgerTx,
			Sequence:        bundle.Sequence,
			CommitTimestamp: bundle.CommitTimestamp,
			Operator:        bundle.Operator,
		}); err != nil {
			return bundle, StepCertify, err
		}
	}

	if o.certifier != nil {
		if _, err := o.certifier.Certify(ctx, bundle); err != nil {
			return bundle, StepCertify, err
		}
	}

	return bundle, StepCertified, nil
}

// commit reconciles against the ledger before submitting. A device that
// already carries the same digest is a completed prior run, not an
// error; a different digest is a genuine duplicate.
func (o *Orchestrator) commit(ctx context.Context, deviceID string, digest proof.Digest) (client.CommitReceipt, error) {
	existing, err := o.committer.Get(ctx, deviceID)
	if err == nil {
		if existing.Digest == digest {
			logger.Info("ledger already holds this digest, reusing record",
				"device_id", deviceID,
				"sequence", existing.Sequence,
			)

			return client.CommitReceipt{
				TxID:     existing.TxID.Hex(),
				Sequence: existing.Sequence,
				Record:   existing,
			}, nil
		}

		return client.CommitReceipt{}, fmt.Errorf("%w: device recorded with a different digest", ledger.ErrDuplicateRecord)
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return client.CommitReceipt{}, err
	}

	return o.committer.Commit(ctx, deviceID, digest)
}

// ledgerFields flattens the operation metadata for privacy review.
func (o *Orchestrator) ledgerFields(in proof.Input, digest proof.Digest) map[string]string {
	return map[string]string{
		"device_id": in.DeviceID,
		"digest":    digest.Hex(),
		"method":    string(in.Method),
		"passes":    strconv.Itoa(in.Passes),
		"timestamp": in.EndTime.UTC().Format(time.RFC3339),
		"operator":  in.Operator,
	}
}

// journalEntry records the run, sanitizing nothing further: only the
// error kind is journaled, never the raw error text.
func (o *Orchestrator) journalEntry(entry journal.Entry) {
	if o.journal == nil {
		return
	}

	if _, err := o.journal.Record(entry); err != nil {
		logger.Warn("journal write failed",
			"operation_id", entry.OperationID,
			"device_id", entry.DeviceID,
		)
	}
}

// errorKind classifies a pipeline failure for the journal and the log
// stream. Raw error text never crosses this boundary.
func errorKind(err error) string {
	switch {
	case errors.Is(err, privacy.ErrViolation):
		return "privacy_violation"
	case errors.Is(err, proof.ErrValidation), errors.Is(err, ledger.ErrValidation):
		return "validation"
	case errors.Is(err, client.ErrConnectivity):
		return "connectivity"
	case errors.Is(err, client.ErrTransaction):
		return "transaction"
	case errors.Is(err, ledger.ErrAccessControl):
		return "access_control"
	case errors.Is(err, ledger.ErrDuplicateRecord):
		return "duplicate_record"
	case errors.Is(err, ledger.ErrPaused):
		return "paused"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// newOperationID generates a random run identifier.
func newOperationID() string {
	var buf [8]byte
	rand.Read(buf[:])

	return "op-" + hex.EncodeToString(buf[:])
}
