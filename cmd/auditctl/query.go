package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/client"
	"wipeledger/internal/proof"
)

// newClient builds a read-only client for the given endpoint.
func newClient(endpoint string) (*client.Client, error) {
	return client.New(client.Config{Endpoint: endpoint})
}

// cmdRecord fetches the ledger record for a device.
func cmdRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	device := fs.String("device", "", "Device identifier")
	fs.Parse(args)

	c, err := newClient(*endpoint)
	if err != nil {
		return err
	}

	rec, err := c.Get(context.Background(), *device)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"device_id": rec.DeviceID,
		"digest":    rec.Digest.Hex(),
		"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"operator":  rec.Operator.Hex(),
		"sequence":  rec.Sequence,
		"tx_id":     rec.TxID.Hex(),
	})
}

// cmdVerify checks a digest against the ledger.
func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	device := fs.String("device", "", "Device identifier")
	digestHex := fs.String("digest", "", "Expected digest, hex")
	fs.Parse(args)

	digest, err := proof.ParseDigest(*digestHex)
	if err != nil {
		return err
	}

	c, err := newClient(*endpoint)
	if err != nil {
		return err
	}

	match, err := c.Verify(context.Background(), *device, digest)
	if err != nil {
		return err
	}

	if !match {
		return fmt.Errorf("digest does not match the ledger record for %s", *device)
	}

	fmt.Printf("%s: digest matches\n", *device)

	return nil
}

// cmdStatus shows the ledger status.
func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	fs.Parse(args)

	c, err := newClient(*endpoint)
	if err != nil {
		return err
	}

	status, err := c.Status(context.Background())
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"admin":   status.Admin.Hex(),
		"records": status.Records,
		"paused":  status.Paused,
	})
}

// adminPair parses the operator and admin addresses for registry calls.
func adminPair(operator, by string) (common.Address, common.Address, error) {
	if !common.IsHexAddress(operator) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid operator address %q", operator)
	}
	if !common.IsHexAddress(by) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid admin address %q", by)
	}

	return common.HexToAddress(operator), common.HexToAddress(by), nil
}
