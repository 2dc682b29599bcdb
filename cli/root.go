package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	audithook "github.com/nexus-link/durable/audit_hook"
	"github.com/nexus-link/durable/engine"
	"github.com/nexus-link/durable/fallback"
)

// Setup registers an application's workflows on a fresh engine.
type Setup func(ctx context.Context, eng *engine.Engine) error

type options struct {
	setup Setup
	open  Opener
	viper *viper.Viper
}

// Option configures the command tree.
type Option func(*options)

// WithSetup registers workflows before the worker starts. Without it the
// worker only runs maintenance.
func WithSetup(s Setup) Option {
	return func(o *options) { o.setup = s }
}

// WithOpener replaces how the backend is connected.
func WithOpener(open Opener) Option {
	return func(o *options) { o.open = open }
}

// WithViper uses v instead of a fresh viper instance.
func WithViper(v *viper.Viper) Option {
	return func(o *options) { o.viper = v }
}

// app is the state shared by every subcommand of one invocation.
type app struct {
	opts    options
	cfgFile string
	cfg     *Config
	logger  *slog.Logger
	backend *Backend
}

// NewCommand returns the durablectl command tree.
func NewCommand(opts ...Option) *cobra.Command {
	a := &app{opts: options{open: OpenBackend}}
	for _, opt := range opts {
		opt(&a.opts)
	}
	if a.opts.viper == nil {
		a.opts.viper = viper.New()
	}

	root := &cobra.Command{
		Use:           "durablectl",
		Short:         "Operate durable workflow instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.backend == nil {
				return nil
			}
			return a.backend.Close(context.WithoutCancel(cmd.Context()))
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default durable.yaml)")
	root.PersistentFlags().String("postgres-dsn", "", "postgres connection string")
	_ = a.opts.viper.BindPFlag("postgres.dsn", root.PersistentFlags().Lookup("postgres-dsn"))
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.opts.viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		a.migrateCommand(),
		a.workerCommand(),
		a.serveCommand(),
		a.instanceCommand(),
		a.activityCommand(),
		a.logsCommand(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.opts.viper, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, err = newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	return nil
}

// connect opens the backend once per invocation.
func (a *app) connect(ctx context.Context) (*Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := a.opts.open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	a.backend = b
	return b, nil
}

// newEngine builds an engine over the backend. Lifecycle events are
// journaled through the audit hook.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, error) {
	b, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(b.Store, b.Blobs, b.Locker,
		engine.WithConfig(a.cfg.EngineConfig()),
		engine.WithLogger(a.logger),
		engine.WithCodec(fallback.GetCodec(a.cfg.Engine.SummaryCodec)),
	)
	if err != nil {
		return nil, err
	}
	eng.Extensions().Register(audithook.New(
		audithook.JournalRecorder(eng.Journal()),
		audithook.WithLogger(a.logger),
	))
	return eng, nil
}

func newLogger(w io.Writer, cfg *Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
}
