// Package main is the entry point of the code runner.
//
// With no subcommand it serves HTTP. The other subcommands run one mode
// against a local file through the same engine, which is handy for checking
// that the toolchains on a machine work before putting it behind a load
// balancer:
//
//	code-runner                                   # serve
//	code-runner run --lang python hello.py
//	code-runner analyze --lang cpp main.cpp
//	code-runner debug --lang python script.py
//	code-runner test --lang java --cases cases.toml Main.java
//	code-runner token --subject web-frontend      # mint a service token
//
// Configuration comes from the environment (and .env), see internal/config.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "code-runner",
		Usage: "compile, run, analyze, debug and test untrusted snippets",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the HTTP API",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return serve(ctx)
				},
			},
			runCommand(),
			analyzeCommand(),
			debugCommand(),
			testCommand(),
			tokenCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
