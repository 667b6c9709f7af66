// Package cli implements the stagetasks command line: the web server and
// commands that work on the same store from a terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stagetasks/internal/config"
	"stagetasks/internal/events"
	"stagetasks/internal/logging"
	"stagetasks/internal/store"
	"stagetasks/internal/tasks"
	"stagetasks/internal/telemetry"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// Assets are the files the web server embeds.
type Assets struct {
	Templates fs.FS // contains templates/*.html and templates/partials/*.html
	Static    fs.FS // contains static/*
}

type app struct {
	assets Assets

	configPath string
	driver     string
	storePath  string
	storeDir   string
	logLevel   string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(assets Assets) *cobra.Command {
	a := &app{assets: assets}

	root := &cobra.Command{
		Use:   "stagetasks",
		Short: "Track tasks broken into stages",
		Long: `stagetasks keeps a list of tasks, each with a priority and an ordered list of
stages that can be checked off. Run "stagetasks serve" for the web interface or
use the other commands against the same store.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.driver, "driver", "", "store driver: sqlite, file, memory, mysql or redis")
	pf.StringVar(&a.storePath, "db", "", "sqlite database path")
	pf.StringVar(&a.storeDir, "dir", "", "file store directory")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.serveCommand(),
		a.listCommand(),
		a.showCommand(),
		a.addCommand(),
		a.editCommand(),
		a.deleteCommand(),
		a.toggleCommand(),
		a.exportCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(assets Assets) int {
	root := NewRootCommand(assets)
	if err := root.ExecuteContext(context.Background()); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		overrides["store.driver"] = a.driver
	}
	if flags.Changed("db") {
		overrides["store.path"] = a.storePath
	}
	if flags.Changed("dir") {
		overrides["store.dir"] = a.storeDir
	}
	if flags.Changed("log-level") {
		overrides["log.level"] = a.logLevel
	}

	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// session is an opened store and repository for one command.
type session struct {
	kv   store.KV
	repo *tasks.Repository
	nats *events.NATSPublisher
}

func (s *session) Close() error {
	var errs []error
	if s.nats != nil {
		errs = append(errs, s.nats.Close())
	}
	errs = append(errs, s.kv.Close())
	return errors.Join(errs...)
}

// open connects the configured store and loads the repository. Extra
// publishers receive every change; a configured NATS server is added so
// running servers pick up changes made from the terminal.
func (a *app) open(ctx context.Context, extra ...events.Publisher) (*session, error) {
	kv, err := store.Open(ctx, a.cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", a.cfg.Store.Driver, err)
	}
	s := &session{kv: kv}

	publishers := events.Multi(extra)
	if url := a.cfg.Events.NATSURL; url != "" {
		s.nats, err = events.NewNATSPublisher(url)
		if err != nil {
			a.logger.Warn("events disabled, could not reach nats", "url", url, "err", err)
		} else {
			publishers = append(publishers, s.nats)
		}
	}

	instruments, err := telemetry.NewInstruments(telemetry.Meter())
	if err != nil {
		s.Close()
		return nil, err
	}

	s.repo, err = tasks.New(ctx, store.NewAdapter(kv, a.cfg.Store.Key),
		tasks.WithLogger(a.logger),
		tasks.WithPublisher(publishers),
		tasks.WithInstruments(instruments),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
