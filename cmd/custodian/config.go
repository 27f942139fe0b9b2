package main

import (
	"fmt"
	"os"

	"github.com/axiomesh/custodian/repo"
	"github.com/urfave/cli/v2"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "The config manage commands",
	Subcommands: []*cli.Command{
		{
			Name:  "generate",
			Usage: "Generate default config",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  "owner",
					Usage: "Initial owner address, repeat for every owner",
				},
				&cli.Uint64Flag{
					Name:  "threshold",
					Usage: "Percentage of owners required to approve a proposal",
					Value: repo.DefaultConfig("").Wallet.ThresholdPercent,
				},
			},
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Show the complete config processed by the environment variable",
			Action: show,
		},
		{
			Name:   "check",
			Usage:  "Check if the config file is valid",
			Action: check,
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Rewrite config with env",
			Action: rewriteWithEnv,
		},
	},
}

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		fmt.Println("custodian repo already exists")
		return nil
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return err
	}

	defaultConfig := repo.DefaultConfig(p)
	defaultConfig.Wallet.Owners = ctx.StringSlice("owner")
	defaultConfig.Wallet.ThresholdPercent = ctx.Uint64("threshold")
	if err := defaultConfig.Validate(); err != nil {
		return err
	}

	r := &repo.Repo{
		Config: defaultConfig,
	}
	if err := r.Flush(); err != nil {
		return err
	}

	fmt.Printf("initializing custodian at %s\n", p)
	return nil
}

func show(ctx *cli.Context) error {
	r, err := loadRepo(ctx)
	if err != nil || r == nil {
		return err
	}
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(ctx *cli.Context) error {
	r, err := loadRepo(ctx)
	if err == nil && r != nil {
		err = r.Config.Validate()
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("config file format error, please check: %s", err), 1)
	}
	return nil
}

func rewriteWithEnv(ctx *cli.Context) error {
	r, err := loadRepo(ctx)
	if err != nil || r == nil {
		return err
	}
	return r.Flush()
}

// loadRepo returns nil without error when the repo does not exist yet.
func loadRepo(ctx *cli.Context) (*repo.Repo, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	if !repo.Exist(p) {
		fmt.Println("custodian repo not exist")
		return nil, nil
	}
	return repo.Load(p)
}

func getRootPath(ctx *cli.Context) (string, error) {
	return repo.LoadRepoRootFromEnv(ctx.String("repo"))
}
