// Package main provides the cjunct CLI entrypoint.
//
// Subcommands:
//
//	run        execute a workflow
//	validate   load and validate a workflow without running it
//	info       version and recognized environment variables
//
// Exit codes follow the error taxonomy: 0 success, 1 execution failed,
// 101 classified base error, 102 load error, 103 integrity error,
// 104 source error, 105 interaction error, 2 unhandled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	cjunct "github.com/nevindra/cjunct"
	"github.com/nevindra/cjunct/observer"
)

// version is set via ldflags at build time.
var version = "dev"

var strategyNames = []string{"free", "sequential", "loose", "strict", "strict-sequential"}

func main() {
	app := &cli.App{
		Name:           "cjunct",
		Usage:          "Declarative task runner with dependency-aware parallel scheduling",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Logging level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "display",
				Usage: "Display name (default|markdown)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			infoCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled classified errors wrapped in
		// cli.Exit; anything reaching this branch is unhandled.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cjunct.ExitUnhandled)
	}
}

// exitErrHandler preserves taxonomy exit codes carried by cli.Exit values.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	if coder, ok := err.(cli.ExitCoder); ok {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(coder.ExitCode())
	}
}

// classify wraps err for the CLI, mapping the error taxonomy to its exit
// code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), cjunct.ExitCode(err))
}

// fold lower-cases flag- and environment-derived names (strategy, display)
// before registry lookup, so "Loose" and "LOOSE" select the same strategy.
var fold = cases.Lower(language.Und)

func buildConfig(c *cli.Context) (cjunct.Config, error) {
	var opts []cjunct.ConfigOption
	if v := c.String("log-level"); v != "" {
		opts = append(opts, cjunct.WithLogLevel(v))
	}
	if v := c.String("display"); v != "" {
		opts = append(opts, cjunct.WithDisplayName(fold.String(v)))
	}
	if v := c.String("strategy"); v != "" {
		opts = append(opts, cjunct.WithStrategyName(cjunct.StrategyName(fold.String(v))))
	}
	if c.Args().Len() > 0 {
		opts = append(opts, cjunct.WithWorkflowFile(c.Args().First()))
	}
	return cjunct.NewConfig(opts...)
}

func validStrategy(name cjunct.StrategyName) bool {
	for _, s := range strategyNames {
		if string(name) == s {
			return true
		}
	}
	return false
}

// setup resolves config and logger and loads external action definitions.
func setup(c *cli.Context) (cjunct.Config, *slog.Logger, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return cjunct.Config{}, nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return cjunct.Config{}, nil, err
	}
	slog.SetDefault(logger)
	if cfg.WorkflowLoaderSourceFile != "" || cfg.DisplaySourceFile != "" {
		logger.Warn("loader/display source files are not loadable in a static binary; use the Go registry instead",
			"loader_source", cfg.WorkflowLoaderSourceFile, "display_source", cfg.DisplaySourceFile)
	}
	var defDirs []string
	if cfg.ActionsClassDefinitionsDir != "" {
		defDirs = append(defDirs, splitCommaList(cfg.ActionsClassDefinitionsDir)...)
	}
	defDirs = append(defDirs, cfg.ExternalModulesPaths...)
	if len(defDirs) > 0 {
		if err := cjunct.LoadActionDefinitions(defDirs, logger); err != nil {
			return cjunct.Config{}, nil, err
		}
	}
	return cfg, logger, nil
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a workflow",
		ArgsUsage: "[WORKFLOW]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Scheduling strategy (free|sequential|loose|strict|strict-sequential)",
			},
			&cli.BoolFlag{
				Name:  "interactive",
				Usage: "Offer a plan-selection prompt before execution",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return classify(err)
			}
			if !validStrategy(cfg.StrategyName) {
				return classify(fmt.Errorf("unknown strategy %q, expected one of %v", cfg.StrategyName, strategyNames))
			}

			source, err := cjunct.ResolveSource(cfg)
			if err != nil {
				return classify(err)
			}
			wf, err := cjunct.Load(source, logger)
			if err != nil {
				return classify(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var runnerOpts []cjunct.RunnerOption
			if cfg.TracingEndpoint != "" {
				shutdown, err := observer.Init(ctx, cfg.TracingEndpoint)
				if err != nil {
					logger.Warn("tracing setup failed, continuing without spans", "error", err)
				} else {
					defer func() {
						flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = shutdown(flushCtx)
					}()
					runnerOpts = append(runnerOpts, cjunct.WithRunnerTracer(observer.NewTracer()))
				}
			}

			display, err := buildDisplay(cfg, wf, c.Bool("interactive"))
			if err != nil {
				return classify(err)
			}
			runnerOpts = append(runnerOpts, cjunct.WithRunnerDisplay(display))

			runner := cjunct.NewRunner(cfg, logger, runnerOpts...)
			logger.Debug("starting run", "source", source, "strategy", cfg.StrategyName)
			return classify(runner.Run(ctx, wf, c.Bool("interactive")))
		},
	}
}

func buildDisplay(cfg cjunct.Config, wf *cjunct.Workflow, interactive bool) (cjunct.Display, error) {
	switch cfg.DisplayName {
	case "", "default":
		if interactive {
			return cjunct.NewInteractiveDisplay(wf, os.Stdout, os.Stdin, cfg.ForceColor), nil
		}
		return cjunct.NewDefaultDisplay(wf, os.Stdout, cfg.ForceColor), nil
	case "markdown":
		return cjunct.NewMarkdownDisplay(wf, os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown display %q", cfg.DisplayName)
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Load and validate a workflow without executing it",
		ArgsUsage: "[WORKFLOW]",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return classify(err)
			}
			source, err := cjunct.ResolveSource(cfg)
			if err != nil {
				return classify(err)
			}
			wf, err := cjunct.Load(source, logger)
			if err != nil {
				return classify(err)
			}
			fmt.Printf("%s: OK (%d actions)\n", source, len(wf.Actions()))
			for _, name := range wf.Order() {
				a := wf.Actions()[name]
				fmt.Printf("  tier %d: %s (%s)\n", a.Tier(), name, a.Type())
			}
			return nil
		},
	}
}

// envVarDocs lists every recognized environment variable with a one-line
// description, printed by `info env-vars`.
var envVarDocs = [][2]string{
	{"CJUNCT_LOG_LEVEL", "Logging level (debug|info|warn|error)"},
	{"CJUNCT_LOG_FILE", "Log destination file (default: stderr)"},
	{"CJUNCT_ENV_FILE", "Dotenv file path (default: .env)"},
	{"CJUNCT_WORKFLOW_FILE", "Workflow source path, or - for stdin"},
	{"CJUNCT_WORKFLOW_LOADER_SOURCE_FILE", "External loader definition (not loadable in a static binary)"},
	{"CJUNCT_DISPLAY_NAME", "Display name (default|markdown)"},
	{"CJUNCT_DISPLAY_SOURCE_FILE", "External display definition (not loadable in a static binary)"},
	{"CJUNCT_STRATEGY_NAME", "Scheduling strategy (free|sequential|loose|strict|strict-sequential)"},
	{"CJUNCT_FORCE_COLOR", "Force color output on (1) or off (0)"},
	{"CJUNCT_SHELL_INJECT_YIELD_FUNCTION", "Prepend the yield_outcome helper to shell commands (default: true)"},
	{"CJUNCT_EXTERNAL_MODULES_PATHS", "Comma-separated directories scanned for action definitions"},
	{"CJUNCT_ACTIONS_CLASS_DEFINITIONS_DIRECTORY", "Comma-separated directories of script action definitions"},
	{"CJUNCT_STRICT_OUTCOMES_RENDERING", "Error on missing outcome keys instead of empty string"},
	{"CJUNCT_TRACING_ENDPOINT", "OTLP HTTP endpoint for trace export"},
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show build and configuration information",
		Subcommands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print the cjunct version",
				Action: func(c *cli.Context) error {
					v := version
					if v == "dev" {
						if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
							v = info.Main.Version
						}
					}
					fmt.Println(v)
					return nil
				},
			},
			{
				Name:  "env-vars",
				Usage: "List recognized environment variables",
				Action: func(c *cli.Context) error {
					for _, doc := range envVarDocs {
						fmt.Printf("%-45s %s\n", doc[0], doc[1])
					}
					return nil
				},
			},
		},
	}
}
