package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/client"
	"wipeledger/internal/cert"
	"wipeledger/internal/journal"
	"wipeledger/internal/ledger"
	"wipeledger/internal/privacy"
	"wipeledger/internal/proof"
	"wipeledger/internal/verify"
)

var testOperator = common.HexToAddress("0x00000000000000000000000000000000000000b2")

// fakeCommitter is an in-memory ledger gateway for pipeline tests.
type fakeCommitter struct {
	records   map[string]ledger.Record
	commitErr error
	commits   int
	seq       uint64
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{records: make(map[string]ledger.Record)}
}

func (f *fakeCommitter) Get(_ context.Context, deviceID string) (ledger.Record, error) {
	rec, ok := f.records[deviceID]
	if !ok {
		return ledger.Record{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, deviceID)
	}

	return rec, nil
}

func (f *fakeCommitter) Commit(_ context.Context, deviceID string, digest proof.Digest) (client.CommitReceipt, error) {
	f.commits++

	if f.commitErr != nil {
		return client.CommitReceipt{}, f.commitErr
	}

	f.seq++
	rec := ledger.Record{
		DeviceID:  deviceID,
		Digest:    digest,
		Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Operator:  testOperator,
		Sequence:  f.seq,
		TxID:      common.HexToHash(fmt.Sprintf("%064x", f.seq)),
	}
	f.records[deviceID] = rec

	return client.CommitReceipt{TxID: rec.TxID.Hex(), Sequence: rec.Sequence, Record: rec}, nil
}

// countingCertifier counts issued certificates and can inject failures.
type countingCertifier struct {
	issued int
	err    error
}

func (c *countingCertifier) Certify(_ context.Context, bundle proof.Bundle) (cert.Certificate, error) {
	if c.err != nil {
		return cert.Certificate{}, c.err
	}

	c.issued++

	return cert.Certificate{DeviceID: bundle.DeviceID, Digest: bundle.Digest}, nil
}

// validInput builds a valid operation input for the given device.
func validInput(deviceID string) proof.Input {
	start := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	return proof.Input{
		DeviceID:         deviceID,
		Method:           proof.MethodPurge,
		Passes:           3,
		StartTime:        start,
		EndTime:          start.Add(45 * time.Minute),
		Operator:         "op-a",
		VerificationData: "sectors-verified",
	}
}

// testPipeline builds an orchestrator with fakes and a real journal and
// cache in temp directories.
func testPipeline(t *testing.T, committer Committer, certifier cert.Certifier) (*Orchestrator, *journal.Journal, *verify.Store) {
	t.Helper()

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	cache, err := verify.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("verify.OpenStore failed: %v", err)
	}

	o, err := New(Options{
		Committer: committer,
		Filter:    privacy.New(),
		Certifier: certifier,
		Journal:   j,
		Cache:     cache,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return o, j, cache
}

func TestProcessSuccess(t *testing.T) {
	committer := newFakeCommitter()
	certifier := &countingCertifier{}
	o, j, cache := testPipeline(t, committer, certifier)

	bundle, err := o.Process(context.Background(), Operation{Input: validInput("DEV-001")})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if err := bundle.Validate(); err != nil {
		t.Errorf("returned bundle invalid: %v", err)
	}
	if committer.commits != 1 {
		t.Errorf("commits = %d, want 1", committer.commits)
	}
	if certifier.issued != 1 {
		t.Errorf("certificates issued = %d, want 1", certifier.issued)
	}

	// The offline cache must hold the confirmed record.
	res, err := cache.VerifyBundle(bundle)
	if err != nil {
		t.Fatalf("VerifyBundle failed: %v", err)
	}
	if res.Status != verify.StatusValid {
		t.Errorf("cache status = %v (%s), want valid", res.Status, res.Reason)
	}

	entries, err := j.List("DEV-001", 10)
	if err != nil {
		t.Fatalf("journal List failed: %v", err)
	}
	if len(entries) != 1 || !entries[0].Success || entries[0].Step != "certified" {
		t.Errorf("journal entry mismatch: %+v", entries)
	}

	stats := o.Stats()
	if stats.Attempted != 1 || stats.Succeeded != 1 || stats.Failed != 0 {
		t.Errorf("stats mismatch: %+v", stats)
	}
}

func TestProcessHaltsOnValidation(t *testing.T) {
	committer := newFakeCommitter()
	o, _, _ := testPipeline(t, committer, &countingCertifier{})

	input := validInput("DEV-001")
	input.Passes = -1

	_, err := o.Process(context.Background(), Operation{Input: input})
	if !errors.Is(err, proof.ErrValidation) {
		t.Fatalf("Process error = %v, want ErrValidation", err)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Step != StepHash {
		t.Errorf("failure step = %v, want hash", err)
	}

	if committer.commits != 0 {
		t.Error("later steps ran after a hash failure")
	}
}

func TestProcessHaltsOnPrivacyViolation(t *testing.T) {
	committer := newFakeCommitter()
	certifier := &countingCertifier{}
	o, j, _ := testPipeline(t, committer, certifier)

	input := validInput("DEV-001")
	input.Operator = "alice@example.com"

	_, err := o.Process(context.Background(), Operation{Input: input})
	if !errors.Is(err, privacy.ErrViolation) {
		t.Fatalf("Process error = %v, want ErrViolation", err)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Step != StepFilter {
		t.Errorf("failure step = %v, want filter", err)
	}

	if committer.commits != 0 {
		t.Error("commit ran after a privacy violation")
	}
	if certifier.issued != 0 {
		t.Error("certificate issued after a privacy violation")
	}

	entries, err := j.Failures(10)
	if err != nil {
		t.Fatalf("journal Failures failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorKind != "privacy_violation" {
		t.Errorf("journal failure mismatch: %+v", entries)
	}
}

func TestProcessReconcilesCompletedRun(t *testing.T) {
	committer := newFakeCommitter()
	o, _, _ := testPipeline(t, committer, &countingCertifier{})

	op := Operation{Input: validInput("DEV-001")}

	first, err := o.Process(context.Background(), op)
	if err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	// Re-running the same operation must reuse the existing record, not
	// trip the duplicate check.
	second, err := o.Process(context.Background(), op)
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if committer.commits != 1 {
		t.Errorf("commits = %d, want 1 (second run reconciled)", committer.commits)
	}
	if first.LedgerTx != second.LedgerTx || first.Sequence != second.Sequence {
		t.Error("reconciled run returned a different ledger reference")
	}
}

func TestProcessRejectsConflictingDigest(t *testing.T) {
	committer := newFakeCommitter()
	o, _, _ := testPipeline(t, committer, &countingCertifier{})

	if _, err := o.Process(context.Background(), Operation{Input: validInput("DEV-001")}); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	input := validInput("DEV-001")
	input.Passes = 7

	_, err := o.Process(context.Background(), Operation{Input: input})
	if !errors.Is(err, ledger.ErrDuplicateRecord) {
		t.Fatalf("Process error = %v, want ErrDuplicateRecord", err)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Step != StepCommit {
		t.Errorf("failure step = %v, want commit", err)
	}
}

func TestProcessHaltsOnCertifierFailure(t *testing.T) {
	committer := newFakeCommitter()
	certifier := &countingCertifier{err: errors.New("renderer offline")}
	o, j, _ := testPipeline(t, committer, certifier)

	_, err := o.Process(context.Background(), Operation{Input: validInput("DEV-001")})

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Step != StepCertify {
		t.Fatalf("Process error = %v, want certify-step failure", err)
	}

	// The commit itself succeeded; the journal must carry the digest
	// and classify the failure as internal.
	entries, jerr := j.Failures(10)
	if jerr != nil {
		t.Fatalf("journal Failures failed: %v", jerr)
	}
	if len(entries) != 1 || entries[0].ErrorKind != "internal" || entries[0].Digest == "" {
		t.Errorf("journal failure mismatch: %+v", entries)
	}
}

func TestProcessBatchContinuesPastFailures(t *testing.T) {
	committer := newFakeCommitter()
	o, _, _ := testPipeline(t, committer, &countingCertifier{})

	bad := validInput("DEV-002")
	bad.Passes = -1

	ops := []Operation{
		{Input: validInput("DEV-001")},
		{Input: bad},
		{Input: validInput("DEV-003")},
	}

	result := o.ProcessBatch(context.Background(), ops, false)

	if result.Attempted != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("batch result mismatch: %+v", result)
	}
	if result.Items[1].Err == nil {
		t.Error("failed item carries no error")
	}

	stats := o.Stats()
	if stats.StepFailures[StepHash] != 1 {
		t.Errorf("step failures = %v, want one hash failure", stats.StepFailures)
	}
}

func TestProcessBatchStopOnError(t *testing.T) {
	committer := newFakeCommitter()
	o, _, _ := testPipeline(t, committer, &countingCertifier{})

	bad := validInput("DEV-001")
	bad.Passes = -1

	ops := []Operation{
		{Input: bad},
		{Input: validInput("DEV-002")},
	}

	result := o.ProcessBatch(context.Background(), ops, true)

	if result.Attempted != 1 {
		t.Errorf("Attempted = %d, want 1 (batch stops on first error)", result.Attempted)
	}
	if committer.commits != 0 {
		t.Error("later items ran after stop-on-error")
	}
}

func TestNewRequiresCommitterAndFilter(t *testing.T) {
	if _, err := New(Options{Filter: privacy.New()}); err == nil {
		t.Error("New accepted a nil committer")
	}
	if _, err := New(Options{Committer: newFakeCommitter()}); err == nil {
		t.Error("New accepted a nil filter")
	}
}
