package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "Custodian"
	app.Usage = "Multi-owner custody wallet with quorum approvals"
	app.Compiled = time.Now()

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	// global flags
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "repo",
			Usage: "Custodian storage repo path",
		},
	}

	app.Commands = []*cli.Command{
		configCMD,
		ownerCMD,
		proposalCMD,
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "Custodian version",
			Action: func(ctx *cli.Context) error {
				printVersion()
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
