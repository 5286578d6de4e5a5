package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/webplane/pkg/config"
	"github.com/openfroyo/webplane/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		document string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management plane",
		Long: `Boot the web subsystem from its document and keep it running.

The server:
  - applies the subsystem document as one composite operation
  - starts the runtime services against the container
  - exposes Prometheus metrics
  - reloads access policies when their files change
  - with --watch, re-converges the live subsystem when the document changes

It stops every service in dependency order on SIGINT or SIGTERM.`,
		Example: `  # Serve with a daemon configuration
  webplane serve --config /etc/webplane/webplane.yaml

  # Serve a document and follow its changes
  webplane serve --document web.cue --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDaemon()
			if err != nil {
				return err
			}
			if document != "" {
				d.Document = document
			}
			if cmd.Flags().Changed("watch") {
				d.Watch = watch
			}
			return serve(cmd.Context(), d)
		},
	}

	cmd.Flags().StringVarP(&document, "document", "d", "", "subsystem document (overrides the configuration)")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-converge when the document changes")

	return cmd
}

func serve(ctx context.Context, d *config.Daemon) error {
	tel, err := telemetry.NewTelemetry(&d.Telemetry)
	if err != nil {
		return err
	}
	logger := tel.Logger.Zerolog()
	ctx = tel.WithContext(ctx)

	rt, err := newRuntime(ctx, d, runtimeOptions{
		authorize: true,
		journal:   true,
		telemetry: tel,
		logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		rt.close(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		}
	}()

	if d.Document != "" {
		doc, res, err := rt.apply(ctx, d.Document)
		tel.DocumentReloaded(d.Document, countOperations(doc), err)
		if err != nil {
			return err
		}
		if res != nil {
			logger.Info().
				Str("document", d.Document).
				Str("outcome", string(res.Outcome)).
				Dur("duration", res.Duration).
				Msg("Subsystem booted")
		}
		rt.awaitServices(ctx)
	}

	var (
		watcher *config.Watcher
		changes <-chan struct{}
	)
	if d.Watch && d.Document != "" {
		if watcher, err = config.NewWatcher(d.Document, 0, logger); err != nil {
			return err
		}
		if changes, err = watcher.Start(); err != nil {
			_ = watcher.Stop()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tel.Metrics.Serve(gctx)
	})

	if d.PolicyDir != "" {
		g.Go(func() error {
			return rt.policies.Watch(gctx)
		})
	}

	if changes != nil {
		g.Go(func() error {
			defer func() { _ = watcher.Stop() }()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-changes:
					rt.reconverge(gctx, tel, d.Document)
				}
			}
		})
	}

	logger.Info().
		Str("mode", string(rt.ctrl.RunningMode())).
		Bool("watch", d.Watch).
		Msg("webplane started")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info().Msg("webplane stopped")
	return nil
}

// reconverge applies the changes of the document. A failed re-converge
// leaves the live subsystem as it was.
func (rt *runtime) reconverge(ctx context.Context, tel *telemetry.Telemetry, path string) {
	plan, err := rt.converge(ctx, path)
	n := 0
	if plan != nil {
		n = len(plan.Operations)
	}
	tel.DocumentReloaded(path, n, err)
	if err != nil {
		rt.logger.Error().Err(err).Str("document", path).Msg("Failed to apply document changes")
		return
	}
	if n > 0 {
		rt.logger.Info().
			Str("document", path).
			Int("added", plan.Summary.ToAdd).
			Int("removed", plan.Summary.ToRemove).
			Int("written", plan.Summary.ToWrite).
			Msg("Document changes applied")
		rt.awaitServices(ctx)
	}
}

// awaitServices waits for the runtime services to settle and logs any that
// failed to start.
func (rt *runtime) awaitServices(ctx context.Context) {
	if rt.registry == nil {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, rt.daemon.VerifyTimeoutOrDefault())
	defer cancel()

	problems, err := rt.registry.AwaitStability(waitCtx)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Services did not settle")
		return
	}
	for name, perr := range problems {
		rt.logger.Error().Err(perr).Str("service", name.String()).Msg("Service failed to start")
	}
}

func countOperations(doc *config.Document) int {
	if doc == nil {
		return 0
	}
	return len(doc.Operations())
}
