package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/engine"
	"github.com/sakif/code-runner/internal/testrunner"
)

var langFlag = &cli.StringFlag{
	Name:     "lang",
	Aliases:  []string{"l"},
	Usage:    "python, javascript, java or cpp",
	Required: true,
}

// sourceArg reads the file named by the first argument ("-" is stdin).
func sourceArg(cmd *cli.Command) (string, error) {
	path := cmd.Args().First()
	if path == "" {
		return "", errors.New("a source file argument is required (use - for stdin)")
	}
	return readFile(path)
}

func readFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// withEngine assembles the engine for a one-shot command and releases it
// afterwards.
func withEngine(fn func(*engine.Engine) error) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a.engine)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "compile and run a file once",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			langFlag,
			&cli.StringFlag{Name: "stdin", Usage: "file fed to the program's standard input"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			code, err := sourceArg(cmd)
			if err != nil {
				return err
			}
			var stdin string
			if path := cmd.String("stdin"); path != "" {
				if stdin, err = readFile(path); err != nil {
					return err
				}
			}
			return withEngine(func(e *engine.Engine) error {
				res := e.Run(ctx, engine.Request{Language: cmd.String("lang"), Code: code, Stdin: stdin})
				fmt.Print(res.Output)
				if !strings.HasSuffix(res.Output, "\n") {
					fmt.Println()
				}
				switch {
				case res.CompileFailed:
					return errors.New(color.RedString("compilation failed"))
				case res.TimedOut:
					return errors.New(color.YellowString("timed out"))
				}
				return nil
			})
		},
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "run the static checks on a file",
		ArgsUsage: "FILE",
		Flags:     []cli.Flag{langFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			code, err := sourceArg(cmd)
			if err != nil {
				return err
			}
			return withEngine(func(e *engine.Engine) error {
				res := e.Analyze(ctx, engine.Request{Language: cmd.String("lang"), Code: code})
				for _, issue := range res.Issues {
					fmt.Println(color.YellowString("*"), issue)
				}
				return nil
			})
		},
	}
}

func debugCommand() *cli.Command {
	return &cli.Command{
		Name:      "debug",
		Usage:     "print variables, call stack and output of a file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			langFlag,
			&cli.StringFlag{Name: "breakpoints", Usage: "comma-separated line numbers"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			code, err := sourceArg(cmd)
			if err != nil {
				return err
			}
			bps, err := parseLines(cmd.String("breakpoints"))
			if err != nil {
				return err
			}
			return withEngine(func(e *engine.Engine) error {
				res := e.Debug(ctx, engine.Request{Language: cmd.String("lang"), Code: code, Breakpoints: bps})
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}

// parseLines parses "3,7, 12" into line numbers.
func parseLines(s string) ([]int, error) {
	var lines []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid breakpoint %q", f)
		}
		lines = append(lines, n)
	}
	return lines, nil
}

// casesFile is the TOML layout of --cases:
//
//	[[cases]]
//	name = "doubles"
//	input = "2"
//	expected = "4"
type casesFile struct {
	Cases []testrunner.Case `toml:"cases"`
}

func loadCases(path string) ([]testrunner.Case, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var f casesFile
	if err := toml.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Cases, nil
}

func testCommand() *cli.Command {
	return &cli.Command{
		Name:      "test",
		Usage:     "run a file against test cases",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			langFlag,
			&cli.StringFlag{Name: "cases", Aliases: []string{"c"}, Usage: "TOML file of [[cases]]", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			code, err := sourceArg(cmd)
			if err != nil {
				return err
			}
			cases, err := loadCases(cmd.String("cases"))
			if err != nil {
				return err
			}
			return withEngine(func(e *engine.Engine) error {
				res := e.Test(ctx, engine.Request{Language: cmd.String("lang"), Code: code, TestCases: cases})
				if res.Error != "" {
					return errors.New(res.Error)
				}
				passed := printResults(os.Stdout, res.Results)
				if passed != len(res.Results) {
					return fmt.Errorf("%d of %d cases failed", len(res.Results)-passed, len(res.Results))
				}
				return nil
			})
		},
	}
}

// printResults writes one verdict line per case and returns how many passed.
func printResults(w io.Writer, results []testrunner.Result) int {
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
			fmt.Fprintf(w, "%s %s\n", color.GreenString("PASS"), r.Name)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", color.RedString("FAIL"), r.Name)
		if r.Error != nil {
			fmt.Fprintf(w, "     error:    %s\n", *r.Error)
		}
		fmt.Fprintf(w, "     expected: %q\n     actual:   %q\n", r.Expected, r.Actual)
	}
	fmt.Fprintf(w, "%d/%d passed\n", passed, len(results))
	return passed
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "mint a service token signed with SERVICE_TOKEN_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "caller name logged with each request", Required: true},
			&cli.StringFlag{Name: "ttl", Usage: "token lifetime", Value: auth.DefaultTTL.String()},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.ServiceTokenSecret == "" {
				return errors.New("SERVICE_TOKEN_SECRET is not set")
			}
			ttl, err := time.ParseDuration(cmd.String("ttl"))
			if err != nil {
				return fmt.Errorf("invalid ttl: %w", err)
			}
			tokens, err := auth.NewTokenService(cfg.ServiceTokenSecret)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateWithDuration(cmd.String("subject"), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
