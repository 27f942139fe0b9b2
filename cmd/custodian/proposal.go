package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/axiomesh/custodian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var (
	fromFlag = &cli.StringFlag{
		Name:     "from",
		Usage:    "Owner address acting in this call",
		Required: true,
	}
	idFlag = &cli.Uint64Flag{
		Name:     "id",
		Usage:    "Proposal id",
		Required: true,
	}
)

var proposalCMD = &cli.Command{
	Name:  "proposal",
	Usage: "The value transfer proposal commands",
	Subcommands: []*cli.Command{
		{
			Name:  "submit",
			Usage: "Submit a value transfer proposal, approved by the submitter",
			Flags: []cli.Flag{
				fromFlag,
				&cli.StringFlag{
					Name:     "to",
					Usage:    "Transfer target address",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "amount",
					Usage: "Transfer amount in wei",
					Value: "0",
				},
				&cli.StringFlag{
					Name:  "payload",
					Usage: "Hex encoded call data",
				},
			},
			Action: submitProposal,
		},
		{
			Name:   "approve",
			Usage:  "Approve a proposal, executing it when quorum is reached",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: approveProposal,
		},
		{
			Name:   "refuse",
			Usage:  "Refuse a proposal, cancelling it when quorum becomes unreachable",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: refuseProposal,
		},
		{
			Name:   "execute",
			Usage:  "Retry execution of a proposal that already holds quorum",
			Flags:  []cli.Flag{fromFlag, idFlag},
			Action: executeProposal,
		},
		{
			Name:   "show",
			Usage:  "Show a proposal",
			Flags:  []cli.Flag{idFlag},
			Action: showProposal,
		},
		{
			Name:   "pending",
			Usage:  "List pending proposals",
			Action: pendingProposals,
		},
	},
}

func parseAddress(ctx *cli.Context, name string) (common.Address, error) {
	s := ctx.String(name)
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func submitProposal(ctx *cli.Context) error {
	from, err := parseAddress(ctx, "from")
	if err != nil {
		return err
	}
	to, err := parseAddress(ctx, "to")
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(ctx.String("amount"), 10)
	if !ok {
		return errors.Errorf("invalid amount %q", ctx.String("amount"))
	}
	var payload []byte
	if s := ctx.String("payload"); s != "" {
		if payload, err = hexutil.Decode(s); err != nil {
			return errors.Wrap(err, "decode payload")
		}
	}

	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := engine.Submit(ctx.Context, from, to, amount, payload)
	if err != nil {
		return err
	}
	fmt.Printf("submitted proposal %d\n", id)
	return nil
}

func approveProposal(ctx *cli.Context) error {
	return voteProposal(ctx, "approved", (*core.Engine).Approve)
}

func refuseProposal(ctx *cli.Context) error {
	return voteProposal(ctx, "refused", (*core.Engine).Refuse)
}

func executeProposal(ctx *cli.Context) error {
	return voteProposal(ctx, "executed", (*core.Engine).Execute)
}

func voteProposal(ctx *cli.Context, verb string, vote func(*core.Engine, context.Context, common.Address, uint64) error) error {
	from, err := parseAddress(ctx, "from")
	if err != nil {
		return err
	}

	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	id := ctx.Uint64("id")
	if err := vote(engine, ctx.Context, from, id); err != nil {
		return err
	}

	p, err := engine.Transfer(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s proposal %d, status %s, approvals %d/%d, refusals %d\n",
		verb, id, p.Status, p.Approvals, engine.Threshold(), p.Refusals)
	return nil
}

func showProposal(ctx *cli.Context) error {
	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := engine.Transfer(ctx.Uint64("id"))
	if err != nil {
		return err
	}
	return printJSON(p)
}

func pendingProposals(ctx *cli.Context) error {
	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return printJSON(engine.PendingTransfers())
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
