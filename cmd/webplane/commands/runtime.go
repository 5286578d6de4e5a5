package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/webplane/pkg/alias"
	"github.com/openfroyo/webplane/pkg/config"
	"github.com/openfroyo/webplane/pkg/container"
	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/policy"
	"github.com/openfroyo/webplane/pkg/services"
	"github.com/openfroyo/webplane/pkg/stores"
	"github.com/openfroyo/webplane/pkg/telemetry"
	"github.com/openfroyo/webplane/pkg/web"
)

// runtimeOptions selects the collaborators a command needs.
type runtimeOptions struct {
	// adminOnly forces a model-only controller whatever the daemon mode.
	adminOnly bool
	authorize bool
	journal   bool
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

// runtime is a wired controller with its collaborators.
type runtime struct {
	daemon   *config.Daemon
	logger   zerolog.Logger
	root     *model.ResourceDefinition
	ctrl     *engine.Controller
	registry *services.Registry
	memory   *container.MemoryEngine
	policies *policy.Engine
	journal  *stores.SQLiteStore
}

func loadDaemon() (*config.Daemon, error) {
	return config.LoadDaemon(configPath)
}

func newRuntime(ctx context.Context, d *config.Daemon, opts runtimeOptions) (*runtime, error) {
	logger := opts.logger
	rt := &runtime{daemon: d, logger: logger}

	rt.root = model.NewRootDefinition()
	defs := web.NewDefinitions(rt.root)

	engineOpts := []engine.Option{
		engine.WithAliases(web.NewAliasResolver(alias.WithLogger(logger))),
		engine.WithVerifyTimeout(d.VerifyTimeoutOrDefault()),
		engine.WithLogger(logger),
	}

	var adapter *container.Adapter
	if opts.adminOnly || d.Mode == engine.ModeAdminOnly {
		engineOpts = append(engineOpts, engine.WithRunningMode(engine.ModeAdminOnly))
	} else {
		rt.registry = services.NewRegistry(services.WithLogger(logger))
		rt.memory = container.NewMemoryEngine()
		var err error
		adapter, err = container.NewAdapter(rt.memory, container.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithServices(rt.registry))
	}

	if opts.telemetry != nil {
		engineOpts = append(engineOpts, engine.WithInstrumentation(opts.telemetry))
		if rt.registry != nil {
			rt.registry.AddListener(opts.telemetry.ServiceListener())
		}
	}

	if opts.authorize {
		popts := []policy.Option{policy.WithLogger(logger)}
		if d.PolicyDir != "" {
			popts = append(popts, policy.WithPaths(d.PolicyDir))
		}
		if opts.telemetry != nil {
			popts = append(popts, policy.WithDenyHook(opts.telemetry.PolicyDenied))
		}
		pe, err := policy.NewEngine(ctx, popts...)
		if err != nil {
			return nil, err
		}
		rt.policies = pe
		engineOpts = append(engineOpts, engine.WithAuthorizer(pe))
	}

	if opts.journal && d.Journal.Enabled {
		j, err := stores.Open(ctx, stores.Config{Path: d.Journal.Path, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		rt.journal = j
		engineOpts = append(engineOpts, engine.WithJournal(j))
		if rt.registry != nil {
			rt.registry.AddListener(j.ServiceListener())
		}
	}

	rt.ctrl = engine.NewController(model.NewTree(rt.root), engineOpts...)
	web.Register(rt.ctrl, defs, adapter,
		web.WithLogger(logger),
		web.WithProperties(web.EnvLookup(d.Properties)),
	)

	scripts, err := config.LoadScripts(d.Scripts)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	if err := config.RegisterScripts(rt.ctrl, config.NewStarlarkEvaluator(0, logger), scripts); err != nil {
		rt.close(ctx)
		return nil, err
	}

	if rt.registry != nil {
		if err := rt.installPlatformServices(); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}
	return rt, nil
}

// installPlatformServices provides the socket bindings and paths the web
// services depend on.
func (rt *runtime) installPlatformServices() error {
	for name, addr := range rt.daemon.SocketBindings {
		b, err := web.ParseSocketBinding(name, addr)
		if err != nil {
			return err
		}
		if err := web.InstallSocketBinding(rt.registry, b); err != nil {
			return fmt.Errorf("failed to install socket binding %s: %w", name, err)
		}
	}
	for name, dir := range rt.daemon.Paths {
		if err := web.InstallPath(rt.registry, name, dir); err != nil {
			return fmt.Errorf("failed to install path %s: %w", name, err)
		}
	}
	return nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.registry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := rt.registry.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn().Err(err).Msg("Service shutdown incomplete")
		}
		cancel()
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to close journal")
		}
	}
}

// loadDocument parses a subsystem document against root.
func loadDocument(root *model.ResourceDefinition, path string, logger zerolog.Logger) (*config.Document, error) {
	return config.Load(root, path,
		config.WithDefaultChildren(web.SubsystemAddress, web.DefaultConfiguration()...),
		config.WithLogger(logger),
	)
}

// apply loads the document at path and executes it as one composite.
func (rt *runtime) apply(ctx context.Context, path string) (*config.Document, *engine.Result, error) {
	doc, err := loadDocument(rt.root, path, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	if len(doc.Resources) == 0 {
		return doc, nil, nil
	}
	res, err := rt.ctrl.Execute(ctx, doc.Composite())
	if err != nil {
		return doc, res, fmt.Errorf("failed to apply %s: %w", path, err)
	}
	return doc, res, nil
}

// converge brings the live subsystem in line with the document at path.
func (rt *runtime) converge(ctx context.Context, path string) (*engine.Plan, error) {
	doc, err := loadDocument(rt.root, path, rt.logger)
	if err != nil {
		return nil, err
	}
	plan, _, err := rt.ctrl.Converge(ctx, web.SubsystemAddress, doc.Operations(), engine.Headers{})
	return plan, err
}

func commandLogger() zerolog.Logger {
	return log.Logger
}

// printStructured writes v as JSON with --json and as YAML otherwise.
func printStructured(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
