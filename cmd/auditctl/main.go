// Command auditctl drives a local ledger node: run the proof pipeline
// for finished wipe operations, query records, manage the operator
// registry, and verify bundles offline.
package main

import (
	"fmt"
	"os"

	"wipeledger/internal/logger"
	"wipeledger/internal/privacy"
)

func main() {
	logger.Init(privacy.New().SanitizeError)

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to the requested subcommand.
func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "process":
		return cmdProcess(rest)
	case "batch":
		return cmdBatch(rest)
	case "record":
		return cmdRecord(rest)
	case "verify":
		return cmdVerify(rest)
	case "status":
		return cmdStatus(rest)
	case "authorize":
		return cmdAuthorize(rest)
	case "revoke":
		return cmdRevoke(rest)
	case "pause":
		return cmdPause(rest)
	case "unpause":
		return cmdUnpause(rest)
	case "verify-offline":
		return cmdVerifyOffline(rest)
	case "export":
		return cmdExport(rest)
	case "inspect":
		return cmdInspect(rest)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// usage prints the command summary.
func usage() {
	fmt.Fprintln(os.Stderr, `usage: auditctl <command> [flags]

pipeline:
  process         run the proof pipeline for one finished operation
  batch           run the pipeline over a JSON file of operations

queries:
  record          fetch the ledger record for a device
  verify          check a digest against the ledger
  status          show ledger status

registry (administrator only):
  authorize       authorize an operator
  revoke          revoke an operator
  pause           pause commits
  unpause         resume commits

offline:
  verify-offline  check a proof bundle against the local cache
  export          download a compressed ledger archive
  inspect         print the contents of a ledger archive`)
}
