package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"wipeledger/client"
	"wipeledger/internal/proof"
	"wipeledger/internal/snapshot"
	"wipeledger/internal/verify"
)

// cmdVerifyOffline checks a proof bundle against the local cache
// without contacting the ledger.
func cmdVerifyOffline(args []string) error {
	fs := flag.NewFlagSet("verify-offline", flag.ExitOnError)
	cacheDir := fs.String("cache", "./cache", "Offline verification cache directory")
	bundlePath := fs.String("bundle", "", "Proof bundle file (JSON)")
	fs.Parse(args)

	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle file:\n%w", err)
	}

	var bundle proof.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parse bundle file:\n%w", err)
	}

	store, err := verify.OpenStore(*cacheDir)
	if err != nil {
		return err
	}

	res, err := store.VerifyBundle(bundle)
	if err != nil {
		return err
	}

	if res.Status != verify.StatusValid {
		return fmt.Errorf("%s: %s (%s)", bundle.DeviceID, res.Status, res.Reason)
	}

	fmt.Printf("%s: valid\n", bundle.DeviceID)

	return nil
}

// cmdExport downloads a compressed ledger archive.
func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	out := fs.String("out", "ledger.zst", "Output archive path")
	fs.Parse(args)

	c, err := client.New(client.Config{Endpoint: *endpoint})
	if err != nil {
		return err
	}

	data, err := c.Export(context.Background())
	if err != nil {
		return err
	}

	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write archive:\n%w", err)
	}

	fmt.Printf("wrote %d bytes to %s\n", len(data), *out)

	return nil
}

// cmdInspect prints the contents of a ledger archive.
func cmdInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	path := fs.String("file", "ledger.zst", "Archive path")
	fs.Parse(args)

	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read archive:\n%w", err)
	}

	exp, err := snapshot.Open(data)
	if err != nil {
		return err
	}

	fmt.Printf("admin %s, %d records, exported %s, checksum %s\n",
		exp.Admin, len(exp.Records), exp.ExportedAt.Format("2006-01-02 15:04:05"), exp.Checksum[:16])

	for _, rec := range exp.Records {
		fmt.Printf("  %6d  %-24s  %s  %s\n", rec.Sequence, rec.DeviceID, rec.Digest[:16], rec.Timestamp)
	}

	return nil
}
