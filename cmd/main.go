// Command shrinkrank evaluates compressed models and maintains the
// leaderboard document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/okian/shrinkrank/internal/adapters/repository"
	"github.com/okian/shrinkrank/internal/config"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Process exit codes.
const (
	exitOK       = 0
	exitOther    = 1
	exitUsage    = 2
	exitArtifact = 3
	exitDataset  = 4
	exitMetric   = 5
	exitParse    = 6
	exitIO       = 7
)

// errUsage marks invalid command lines.
var errUsage = errors.New("usage error")

const usage = `usage: shrinkrank <command> [flags]

commands:
  evaluate   measure a submission and write result.json
  update     merge a result into the leaderboard document
  init       create a fresh leaderboard document
  serve      accept results over HTTP and merge them
  version    print the version

Run 'shrinkrank <command> --help' for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// command is one subcommand. bind registers its flags; exec runs it once
// configuration and logging are in place.
type command interface {
	bind(fs *pflag.FlagSet)
	apply(fs *pflag.FlagSet, cfg *config.Config)
	exec(ctx context.Context, cfg *config.Config, stdout io.Writer) error
}

func newCommand(name string) (command, bool) {
	switch name {
	case "evaluate":
		return &evaluateCmd{}, true
	case "update":
		return &updateCmd{}, true
	case "init":
		return &initCmd{}, true
	case "serve":
		return &serveCmd{}, true
	default:
		return nil, false
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (c *commonFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file (overrides $"+config.EnvConfigPath+")")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "log format: text or json")
}

func (c *commonFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	name := args[0]
	switch name {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, "shrinkrank", version)
		return exitOK
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return exitOK
	}

	cmd, ok := newCommand(name)
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return exitUsage
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.bind(fs)
	cmd.bind(fs)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return exitUsage
	}

	if common.configPath != "" {
		_ = os.Setenv(config.EnvConfigPath, common.configPath)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config:", err)
		return exitUsage
	}
	common.apply(fs, cfg)
	cmd.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "invalid configuration:", err)
		return exitUsage
	}

	if err := logger.InitWith(cfg.LogFormat, stderr); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging:", err)
		return exitUsage
	}
	log := logger.Get().With(logger.String("command", name), logger.String("version", version))
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	err = cmd.exec(ctx, cfg, stdout)
	if err != nil {
		metrics.RecordError(name, model.Kind(err))
		log.Error(ctx, "command failed", logger.String("kind", model.Kind(err)), logger.Error(err))
	}
	return exitCode(err)
}

// exitCode maps an error to the documented process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), errors.Is(err, model.ErrInvalidResult), errors.Is(err, config.ErrInvalidConfig):
		return exitUsage
	case errors.Is(err, model.ErrArtifact):
		return exitArtifact
	case errors.Is(err, model.ErrDataset):
		return exitDataset
	case errors.Is(err, model.ErrMetric):
		return exitMetric
	case errors.Is(err, model.ErrParse):
		return exitParse
	case errors.Is(err, model.ErrIO), errors.Is(err, repository.ErrLocked), errors.Is(err, repository.ErrExists):
		return exitIO
	default:
		return exitOther
	}
}

// pushMetrics hands the metrics of a one-shot command to the Pushgateway.
func pushMetrics(ctx context.Context, cfg *config.Config, job string) {
	if err := metrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, job); err != nil {
		logger.Get().Warn(ctx, "failed to push metrics", logger.String("job", job), logger.Error(err))
	}
}
