package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sessionctl",
		Usage: "issue, inspect and revoke escrow session keys for an agent wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "chains",
				Usage:   "YAML file overriding the built-in chain definitions",
				EnvVars: []string{"ESCROW_CHAINS_FILE"},
			},
			&cli.StringFlag{
				Name:  "chain",
				Usage: "network name or chain id",
				Value: "baseSepolia",
			},
			&cli.StringFlag{
				Name:  "owner-key-env",
				Usage: "environment variable holding the owner private key (hex)",
				Value: "ESCROW_OWNER_KEY",
			},
		},
		Commands: []*cli.Command{
			issueCommand(),
			inspectCommand(),
			revokeCommand(),
			waitRevokedCommand(),
			topupCommand(),
			registerCommand(),
			adminTokenCommand(),
		},
	}
}
