package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/api"
	"wipeledger/internal/ledger"
	"wipeledger/internal/logger"
	"wipeledger/internal/storage"
)

// Daemon is a running ledger node.
type Daemon struct {
	cfg     *Config
	storage *storage.Store
	ledger  *ledger.Ledger
	api     *api.Server
}

// NewDaemon creates and initializes a ledger node.
func NewDaemon(cfg *Config) (*Daemon, error) {
	admin, err := parseAdmin(cfg.Admin)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open storage:\n%w", err)
	}

	l, err := ledger.Open(store, admin)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open ledger:\n%w", err)
	}

	return &Daemon{
		cfg:     cfg,
		storage: store,
		ledger:  l,
		api:     api.New(cfg.HTTPAddress, l),
	}, nil
}

// parseAdmin validates the administrator identity. A fresh ledger needs
// one; a reopened ledger keeps its persisted administrator.
func parseAdmin(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}

	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid admin address %q", s)
	}

	return common.HexToAddress(s), nil
}

// Run starts the API and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return d.Close()
}

// Close stops the API and releases storage.
func (d *Daemon) Close() error {
	if d.api != nil {
		if err := d.api.Stop(); err != nil {
			logger.Warn("api shutdown failed", "error", err.Error())
		}
	}

	if d.storage != nil {
		return d.storage.Close()
	}

	return nil
}
