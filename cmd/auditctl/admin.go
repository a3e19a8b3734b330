package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// cmdAuthorize adds an operator to the registry.
func cmdAuthorize(args []string) error {
	return registryCommand("authorize", args, func(ctx context.Context, c registryClient, operator, by common.Address) error {
		return c.Authorize(ctx, operator, by)
	})
}

// cmdRevoke removes an operator from the registry.
func cmdRevoke(args []string) error {
	return registryCommand("revoke", args, func(ctx context.Context, c registryClient, operator, by common.Address) error {
		return c.Revoke(ctx, operator, by)
	})
}

// registryClient is the client subset registry commands need.
type registryClient interface {
	Authorize(ctx context.Context, operator, by common.Address) error
	Revoke(ctx context.Context, operator, by common.Address) error
}

// registryCommand parses registry flags and applies the mutation.
func registryCommand(name string, args []string, apply func(context.Context, registryClient, common.Address, common.Address) error) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	operator := fs.String("operator", "", "Operator identity (0x address)")
	by := fs.String("by", "", "Administrator identity (0x address)")
	fs.Parse(args)

	op, admin, err := adminPair(*operator, *by)
	if err != nil {
		return err
	}

	c, err := newClient(*endpoint)
	if err != nil {
		return err
	}

	if err := apply(context.Background(), c, op, admin); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", name, op.Hex())

	return nil
}

// cmdPause halts commits on the ledger.
func cmdPause(args []string) error {
	return pauseCommand("pause", args, true)
}

// cmdUnpause resumes commits on the ledger.
func cmdUnpause(args []string) error {
	return pauseCommand("unpause", args, false)
}

// pauseCommand parses pause flags and applies the state change.
func pauseCommand(name string, args []string, pause bool) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	endpoint := fs.String("endpoint", "127.0.0.1:8080", "Ledger node address")
	by := fs.String("by", "", "Administrator identity (0x address)")
	fs.Parse(args)

	if !common.IsHexAddress(*by) {
		return fmt.Errorf("invalid admin address %q", *by)
	}

	c, err := newClient(*endpoint)
	if err != nil {
		return err
	}

	admin := common.HexToAddress(*by)

	if pause {
		err = c.Pause(context.Background(), admin)
	} else {
		err = c.Unpause(context.Background(), admin)
	}
	if err != nil {
		return err
	}

	fmt.Printf("ledger %sd\n", name)

	return nil
}
