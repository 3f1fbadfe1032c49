//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/manetu/trackauth/cmd/trackauth/subcommands/serve"
	"github.com/manetu/trackauth/cmd/trackauth/subcommands/useradd"
	"github.com/manetu/trackauth/cmd/trackauth/version"
	"github.com/urfave/cli/v3"
)

func main() {
	// pick up TRACKAUTH_* settings from a local .env, if present
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "trackauth",
		Usage: "An authorizing proxy for MLflow-style tracking servers",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Starts the authorizing proxy in front of the tracking server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on.",
						Value: 8080,
					},
					&cli.StringFlag{
						Name:  "tracking-url",
						Usage: "The upstream tracking server base URL.  Overrides tracking.url from the configuration.",
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "useradd",
				Usage: "Creates or updates a user in the permission store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Usage:    "The username (lowercased on storage)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "The password for HTTP Basic authentication.  Leave empty to keep any existing password.",
					},
					&cli.StringFlag{
						Name:  "display-name",
						Usage: "The display name.  Defaults to the username.",
					},
					&cli.BoolFlag{
						Name:  "admin",
						Usage: "Grant administrator access",
					},
				},
				Action: useradd.Execute,
			},
			{
				Name:  "version",
				Usage: "Prints the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
