package main

import (
	"fmt"
	"os"

	"wipeledger/internal/logger"
	"wipeledger/internal/privacy"
)

func main() {
	logger.Init(privacy.New().SanitizeError)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseFlags()
	if err != nil {
		return err
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		return fmt.Errorf("create daemon:\n%w", err)
	}

	logger.Info("starting ledger daemon",
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"admin", d.ledger.Admin().Hex(),
	)

	return d.Run()
}
