package audit

import (
	"context"
	"sync"
	"time"

	"wipeledger/internal/logger"
	"wipeledger/internal/proof"
)

// Stats aggregates pipeline outcomes across runs. Safe for concurrent
// use.
type Stats struct {
	mu           sync.Mutex
	attempted    int
	succeeded    int
	failed       int
	stepFailures map[Step]int
	totalLatency time.Duration
}

// StatsSnapshot is a point-in-time copy of the statistics.
type StatsSnapshot struct {
	Attempted      int           // Attempted counts started runs
	Succeeded      int           // Succeeded counts certified runs
	Failed         int           // Failed counts halted runs
	StepFailures   map[Step]int  // StepFailures counts failures per step
	AverageLatency time.Duration // AverageLatency averages over finished runs
}

// recordStart counts a started run.
func (s *Stats) recordStart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempted++
}

// recordSuccess counts a certified run.
func (s *Stats) recordSuccess(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.succeeded++
	s.totalLatency += latency
}

// recordFailure counts a halted run against its failing step.
func (s *Stats) recordFailure(step Step, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed++
	s.totalLatency += latency

	if s.stepFailures == nil {
		s.stepFailures = make(map[Step]int)
	}
	s.stepFailures[step]++
}

// Stats returns a snapshot of the aggregate statistics.
func (o *Orchestrator) Stats() StatsSnapshot {
	o.stats.mu.Lock()
	defer o.stats.mu.Unlock()

	snap := StatsSnapshot{
		Attempted:    o.stats.attempted,
		Succeeded:    o.stats.succeeded,
		Failed:       o.stats.failed,
		StepFailures: make(map[Step]int, len(o.stats.stepFailures)),
	}

	for step, n := range o.stats.stepFailures {
		snap.StepFailures[step] = n
	}

	if finished := snap.Succeeded + snap.Failed; finished > 0 {
		snap.AverageLatency = o.stats.totalLatency / time.Duration(finished)
	}

	return snap
}

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	Operation Operation    // Operation is the processed input
	Bundle    proof.Bundle // Bundle is set on success
	Err       error        // Err is set on failure
}

// BatchResult summarizes one batch run.
type BatchResult struct {
	Items     []ItemResult  // Items holds per-operation outcomes in input order
	Attempted int           // Attempted counts processed items
	Succeeded int           // Succeeded counts certified items
	Failed    int           // Failed counts halted items
	Elapsed   time.Duration // Elapsed is the wall time of the whole batch
}

// Rate returns certified devices per second over the batch.
func (r BatchResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}

	return float64(r.Succeeded) / r.Elapsed.Seconds()
}

// ProcessBatch runs the pipeline over a sequence of operations, one at
// a time. A per-item failure does not abort the batch unless
// stopOnError is set; cancellation always stops before the next item.
func (o *Orchestrator) ProcessBatch(ctx context.Context, ops []Operation, stopOnError bool) BatchResult {
	started := o.now()

	var result BatchResult

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}

		result.Attempted++

		bundle, err := o.Process(ctx, op)

		item := ItemResult{Operation: op, Bundle: bundle, Err: err}
		result.Items = append(result.Items, item)

		if err != nil {
			result.Failed++

			if stopOnError {
				break
			}
			continue
		}

		result.Succeeded++
	}

	result.Elapsed = o.now().Sub(started)

	logger.Info("batch finished",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", result.Elapsed,
	)

	return result
}
