package main

import (
	"context"
	"fmt"

	"github.com/axiomesh/custodian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var ownerCMD = &cli.Command{
	Name:  "owner",
	Usage: "The owner set commands",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List current owners and threshold",
			Action: listOwners,
		},
		{
			Name:  "add",
			Usage: "Propose adding an owner",
			Flags: []cli.Flag{
				fromFlag,
				&cli.StringFlag{
					Name:     "candidate",
					Usage:    "Address to admit",
					Required: true,
				},
			},
			Action: func(ctx *cli.Context) error {
				return submitMembership(ctx, "candidate", (*core.Engine).SubmitAddOwner)
			},
		},
		{
			Name:  "approve-add",
			Usage: "Approve an add owner proposal",
			Flags: []cli.Flag{fromFlag, idFlag},
			Action: func(ctx *cli.Context) error {
				return approveMembership(ctx, (*core.Engine).ApproveAddOwner, (*core.Engine).AddOwnerProposal)
			},
		},
		{
			Name:  "remove",
			Usage: "Propose removing an owner",
			Flags: []cli.Flag{
				fromFlag,
				&cli.StringFlag{
					Name:     "target",
					Usage:    "Owner to evict",
					Required: true,
				},
			},
			Action: func(ctx *cli.Context) error {
				return submitMembership(ctx, "target", (*core.Engine).SubmitRemoveOwner)
			},
		},
		{
			Name:  "approve-remove",
			Usage: "Approve a remove owner proposal",
			Flags: []cli.Flag{fromFlag, idFlag},
			Action: func(ctx *cli.Context) error {
				return approveMembership(ctx, (*core.Engine).ApproveRemoveOwner, (*core.Engine).RemoveOwnerProposal)
			},
		},
	},
}

func listOwners(ctx *cli.Context) error {
	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, owner := range engine.Owners() {
		fmt.Println(owner.Hex())
	}
	fmt.Printf("threshold: %d (%d%%)\n", engine.Threshold(), engine.Percent())
	return nil
}

func submitMembership(ctx *cli.Context, subjectFlag string, submit func(*core.Engine, context.Context, common.Address, common.Address) (uint64, error)) error {
	from, err := parseAddress(ctx, "from")
	if err != nil {
		return err
	}
	subject, err := parseAddress(ctx, subjectFlag)
	if err != nil {
		return err
	}

	engine, db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := submit(engine, ctx.Context, from, subject)
	if err != nil {
		return err
	}
	fmt.Printf("submitted membership proposal %d\n", id)
	return nil
}

func approveMembership(
	ctx *cli.Context,
	approve func(*core.Engine, context.Context, common.Address, uint64) error,
	get func(*core.Engine, uint64) (*core.MembershipProposal, error),
) error {
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
	if err := approve(engine, ctx.Context, from, id); err != nil {
		return err
	}

	p, err := get(engine, id)
	if err != nil {
		return err
	}
	fmt.Printf("approved membership proposal %d for %s, status %s, approvals %d, owners %d\n",
		id, p.Subject.Hex(), p.Status, p.Approvals, len(engine.Owners()))
	return nil
}
