package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-link/durable/api"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/workflow"
)

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
}

func (a *app) workerCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Re-enter postponed instances and run maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			if a.opts.setup != nil {
				if err := a.opts.setup(ctx, eng); err != nil {
					return fmt.Errorf("setup workflows: %w", err)
				}
			}

			if once {
				n, err := eng.Pool().RunOnce(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("re-entry pass finished", slog.Int("handled", n))
				return nil
			}

			// Without registered workflows there is nothing to re-enter;
			// postponed instances stay queued for a worker that has them.
			if len(eng.Definitions()) == 0 {
				a.logger.Warn("no workflows registered, running maintenance only")
				if err := eng.Scheduler().Start(ctx); err != nil {
					return err
				}
			} else if err := eng.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("worker started", slog.Any("workflows", eng.Definitions()))

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			return eng.Stop(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process due re-entries and exit")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var (
		addr   string
		worker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the administrative HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := a.newEngine(ctx)
			if err != nil {
				return err
			}
			if a.opts.setup != nil {
				if err := a.opts.setup(ctx, eng); err != nil {
					return fmt.Errorf("setup workflows: %w", err)
				}
			}
			if worker {
				if err := eng.Start(ctx); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.New(eng, a.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("admin api listening", slog.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("admin api: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("admin api shutdown", slog.String("error", err.Error()))
			}
			if worker {
				return eng.Stop(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&worker, "worker", false, "also re-enter postponed instances and run maintenance")
	return cmd
}

func (a *app) instanceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Inspect and manage workflow instances",
	}

	var (
		state string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			insts, err := eng.ListInstances(cmd.Context(), workflow.ListOpts{State: workflow.State(state), Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), insts)
		},
	}
	list.Flags().StringVar(&state, "state", "", "only instances in this state")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of instances")

	get := &cobra.Command{
		Use:   "get <instance-id>",
		Short: "Show a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID, err := parseID(args[0])
			if err != nil {
				return err
			}
			eng, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			inst, err := eng.GetInstance(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inst)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <instance-id>",
		Short: "Cancel a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: a.instanceAction(func(ctx context.Context, eng engineAdmin, instanceID id.ID) error {
			return eng.CancelInstance(ctx, instanceID)
		}, "workflow instance cancelled"),
	}

	retry := &cobra.Command{
		Use:   "retry <instance-id>",
		Short: "Resume a halted workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: a.instanceAction(func(ctx context.Context, eng engineAdmin, instanceID id.ID) error {
			return eng.RetryHalted(ctx, instanceID)
		}, "halted workflow instance retried"),
	}

	cmd.AddCommand(list, get, cancel, retry)
	return cmd
}

func (a *app) activityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Inspect and manage activity instances",
	}

	list := &cobra.Command{
		Use:   "list <instance-id>",
		Short: "List the activities of a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID, err := parseID(args[0])
			if err != nil {
				return err
			}
			eng, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			acts, err := eng.ListActivities(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acts)
		},
	}

	retry := &cobra.Command{
		Use:   "retry <activity-instance-id>",
		Short: "Retry a failed activity",
		Args:  cobra.ExactArgs(1),
		RunE: a.instanceAction(func(ctx context.Context, eng engineAdmin, activityID id.ID) error {
			return eng.RetryActivity(ctx, activityID)
		}, "activity retried"),
	}

	handled := &cobra.Command{
		Use:   "alert-handled <activity-instance-id>",
		Short: "Mark the failure alert of an activity as handled",
		Args:  cobra.ExactArgs(1),
		RunE: a.instanceAction(func(ctx context.Context, eng engineAdmin, activityID id.ID) error {
			return eng.MarkAlertHandled(ctx, activityID)
		}, "activity alert marked handled"),
	}

	cmd.AddCommand(list, retry, handled)
	return cmd
}

func (a *app) logsCommand() *cobra.Command {
	var (
		activityArg string
		severity    string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "logs <instance-id>",
		Short: "Show the journal of a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := journal.ListOpts{Limit: limit}
			if activityArg != "" {
				if opts.ActivityInstanceID, err = parseID(activityArg); err != nil {
					return err
				}
			}
			if severity != "" {
				if opts.MinSeverity, err = journal.ParseSeverity(severity); err != nil {
					return err
				}
			}
			eng, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := eng.ListLogs(cmd.Context(), instanceID, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&activityArg, "activity", "", "only entries of this activity instance")
	cmd.Flags().StringVar(&severity, "min-severity", "", "lowest severity to show")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	return cmd
}

// engineAdmin is the part of the engine administrative commands use.
type engineAdmin interface {
	CancelInstance(ctx context.Context, instanceID id.ID) error
	RetryHalted(ctx context.Context, instanceID id.ID) error
	RetryActivity(ctx context.Context, activityInstanceID id.ID) error
	MarkAlertHandled(ctx context.Context, activityInstanceID id.ID) error
}

func (a *app) instanceAction(fn func(ctx context.Context, eng engineAdmin, target id.ID) error, done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		target, err := parseID(args[0])
		if err != nil {
			return err
		}
		eng, err := a.newEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := fn(cmd.Context(), eng, target); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", done, target)
		return err
	}
}

func parseID(s string) (id.ID, error) {
	parsed, err := id.Parse(s)
	if err != nil {
		return id.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return parsed, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
