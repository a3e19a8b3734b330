package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/client"
	"wipeledger/internal/audit"
	"wipeledger/internal/cert"
	"wipeledger/internal/journal"
	"wipeledger/internal/privacy"
	"wipeledger/internal/proof"
	"wipeledger/internal/verify"
)

// pipelineFlags holds the flags shared by process and batch.
type pipelineFlags struct {
	endpoint    string
	operator    string
	operatorID  string
	journalPath string
	certDir     string
	cacheDir    string
}

// register adds the shared pipeline flags to a flag set.
func (p *pipelineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.endpoint, "endpoint", "127.0.0.1:8080", "Ledger node address (must be local)")
	fs.StringVar(&p.operator, "operator", "", "Committing operator identity (0x address)")
	fs.StringVar(&p.operatorID, "operator-id", "", "Operator name recorded in the proof")
	fs.StringVar(&p.journalPath, "journal", "./auditctl.db", "Operation journal database path")
	fs.StringVar(&p.certDir, "certs", "./certs", "Certificate output directory")
	fs.StringVar(&p.cacheDir, "cache", "./cache", "Offline verification cache directory")
}

// buildPipeline wires the orchestrator from the shared flags.
func (p *pipelineFlags) buildPipeline() (*audit.Orchestrator, func(), error) {
	if !common.IsHexAddress(p.operator) {
		return nil, nil, fmt.Errorf("invalid operator address %q", p.operator)
	}

	c, err := client.New(client.Config{
		Endpoint: p.endpoint,
		Operator: common.HexToAddress(p.operator),
	})
	if err != nil {
		return nil, nil, err
	}

	filter := privacy.New()

	certifier, err := cert.NewWriter(p.certDir, filter)
	if err != nil {
		return nil, nil, err
	}

	j, err := journal.Open(p.journalPath)
	if err != nil {
		return nil, nil, err
	}

	cache, err := verify.OpenStore(p.cacheDir)
	if err != nil {
		j.Close()
		return nil, nil, err
	}

	o, err := audit.New(audit.Options{
		Committer: c,
		Filter:    filter,
		Certifier: certifier,
		Journal:   j,
		Cache:     cache,
	})
	if err != nil {
		j.Close()
		return nil, nil, err
	}

	return o, func() { j.Close() }, nil
}

// cmdProcess runs the pipeline for one finished operation.
func cmdProcess(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)

	var p pipelineFlags
	p.register(fs)

	var (
		device       = fs.String("device", "", "Device identifier")
		method       = fs.String("method", "purge", "Destruction method: clear, purge, destroy")
		passes       = fs.Int("passes", 1, "Overwrite pass count")
		start        = fs.String("start", "", "Operation start time, RFC3339 (default: now)")
		end          = fs.String("end", "", "Operation end time, RFC3339 (default: now)")
		verification = fs.String("verification", "", "Free-form verification metadata")
	)

	fs.Parse(args)

	input, err := buildInput(*device, *method, *passes, *start, *end, p.operatorID, *verification)
	if err != nil {
		return err
	}

	o, done, err := p.buildPipeline()
	if err != nil {
		return err
	}
	defer done()

	bundle, err := o.Process(context.Background(), audit.Operation{Input: input})
	if err != nil {
		return err
	}

	return printJSON(bundle)
}

// batchFile is the JSON shape of a batch input file.
type batchFile struct {
	Operations []batchOperation `json:"operations"`
}

// batchOperation is one operation in a batch file.
type batchOperation struct {
	DeviceID         string `json:"device_id"`
	Method           string `json:"method"`
	Passes           int    `json:"passes"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	VerificationData string `json:"verification_data"`
}

// cmdBatch runs the pipeline over a JSON file of operations.
func cmdBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)

	var p pipelineFlags
	p.register(fs)

	var (
		file        = fs.String("file", "", "Batch input file (JSON)")
		stopOnError = fs.Bool("stop-on-error", false, "Abort the batch on the first failure")
	)

	fs.Parse(args)

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read batch file:\n%w", err)
	}

	var batch batchFile
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parse batch file:\n%w", err)
	}

	ops := make([]audit.Operation, 0, len(batch.Operations))
	for _, op := range batch.Operations {
		input, err := buildInput(op.DeviceID, op.Method, op.Passes, op.StartTime, op.EndTime, p.operatorID, op.VerificationData)
		if err != nil {
			return fmt.Errorf("operation %s:\n%w", op.DeviceID, err)
		}

		ops = append(ops, audit.Operation{Input: input})
	}

	o, done, err := p.buildPipeline()
	if err != nil {
		return err
	}
	defer done()

	result := o.ProcessBatch(context.Background(), ops, *stopOnError)

	fmt.Printf("attempted %d, succeeded %d, failed %d in %s (%.1f devices/s)\n",
		result.Attempted, result.Succeeded, result.Failed, result.Elapsed.Round(time.Millisecond), result.Rate())

	for _, item := range result.Items {
		if item.Err != nil {
			fmt.Printf("  %s: %v\n", item.Operation.Input.DeviceID, item.Err)
		}
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d operations failed", result.Failed)
	}

	return nil
}

// buildInput assembles and validates a proof input from CLI values.
func buildInput(device, method string, passes int, start, end, operatorID, verification string) (proof.Input, error) {
	now := time.Now().UTC()

	startTime, err := parseTimeOr(start, now)
	if err != nil {
		return proof.Input{}, fmt.Errorf("invalid start time:\n%w", err)
	}

	endTime, err := parseTimeOr(end, now)
	if err != nil {
		return proof.Input{}, fmt.Errorf("invalid end time:\n%w", err)
	}

	input := proof.Input{
		DeviceID:         device,
		Method:           proof.Method(method),
		Passes:           passes,
		StartTime:        startTime,
		EndTime:          endTime,
		Operator:         operatorID,
		VerificationData: verification,
	}

	return input, input.Validate()
}

// parseTimeOr parses an RFC3339 time, defaulting when empty.
func parseTimeOr(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}

	return time.Parse(time.RFC3339, s)
}

// printJSON pretty-prints a value to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))

	return nil
}
