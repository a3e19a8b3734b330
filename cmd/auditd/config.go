package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// DataPath is the directory for ledger storage.
	DataPath string `yaml:"data_path"`

	// HTTPAddress is the ledger API listen address.
	HTTPAddress string `yaml:"http_address"`

	// Admin is the ledger administrator identity (0x-prefixed address).
	Admin string `yaml:"admin"`
}

// parseFlags parses command-line flags, loading an optional YAML
// configuration file first. Flags override the file; environment
// variables override both.
func parseFlags() (*Config, error) {
	cfg := &Config{
		DataPath:    "./data",
		HTTPAddress: "127.0.0.1:8080",
	}

	var configPath string

	flag.StringVar(&configPath, "config", "", "YAML configuration file path")
	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Ledger data directory")
	flag.StringVar(&cfg.HTTPAddress, "http", cfg.HTTPAddress, "Ledger API address")
	flag.StringVar(&cfg.Admin, "admin", "", "Administrator identity (0x address)")
	flag.Parse()

	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, err
		}

		// Re-apply flags so they win over the file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "data":
				cfg.DataPath = f.Value.String()
			case "http":
				cfg.HTTPAddress = f.Value.String()
			case "admin":
				cfg.Admin = f.Value.String()
			}
		})
	}

	applyEnv(cfg)

	return cfg, nil
}

// loadFile merges a YAML configuration file into cfg.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file:\n%w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file:\n%w", err)
	}

	return nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WIPELEDGER_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("WIPELEDGER_HTTP_ADDRESS"); v != "" {
		cfg.HTTPAddress = v
	}
	if v := os.Getenv("WIPELEDGER_ADMIN"); v != "" {
		cfg.Admin = v
	}
}
