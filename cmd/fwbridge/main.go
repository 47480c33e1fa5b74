// Package main implements the fwbridge daemon. fwbridge compiles a
// declarative firmware spec into a wire schema and bridges one target's
// protocol traffic between embedded clients and NATS.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/osu-uwrt/riptide-fw-bridge/bridge"
	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/component"
	"github.com/osu-uwrt/riptide-fw-bridge/config"
	"github.com/osu-uwrt/riptide-fw-bridge/health"
	"github.com/osu-uwrt/riptide-fw-bridge/metric"
	"github.com/osu-uwrt/riptide-fw-bridge/natsbus"
	"github.com/osu-uwrt/riptide-fw-bridge/natsclient"
	"github.com/osu-uwrt/riptide-fw-bridge/schema"
	"github.com/osu-uwrt/riptide-fw-bridge/spec"
	"github.com/osu-uwrt/riptide-fw-bridge/transport"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "fwbridge"
)

// errUsage marks command-line errors that already printed usage.
var errUsage = stderrors.New("usage")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		if stderrors.Is(err, errUsage) {
			os.Exit(2)
		}
		slog.Error("fwbridge failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadDaemonConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	slog.Info("starting fwbridge",
		"target", cliCfg.Target,
		"spec_path", cfg.SpecPath,
		"config_path", cliCfg.ConfigPath)

	compiled, err := compileSpec(cfg.SpecPath, cliCfg.Target, logger)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("spec and configuration are valid",
			"protocol_version", compiled.Version())
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewMetricsRegistry()

	natsClient, err := connectNATS(signalCtx, cfg, cliCfg.Target, metricsRegistry)
	if err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	fwBus, store, err := setupBus(signalCtx, natsClient, compiled, cliCfg.Target, logger, metricsRegistry)
	if err != nil {
		return err
	}

	stack, server, b, err := assembleComponents(cfg, compiled, cliCfg.Target, fwBus, store, logger, metricsRegistry)
	if err != nil {
		return err
	}

	if err := stack.Initialize(); err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	if err := stack.Start(signalCtx, cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	monitor := health.NewMonitor()
	go monitor.Poll(signalCtx, 10*time.Second, []component.Discoverable{b, server})

	var diagServer *metric.Server
	if cfg.Metrics.Enabled {
		diagServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry, monitor)
		go func() {
			if err := diagServer.Start(); err != nil {
				slog.Error("diagnostics server failed", "error", err)
			}
		}()
	}

	slog.Info("fwbridge started",
		"target", cliCfg.Target,
		"protocol_version", b.Version(),
		"listen", server.Addr())

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	var errs []error
	if diagServer != nil {
		if err := diagServer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	// Reverse order: the transport stops accepting traffic before the
	// bridge drops its bus subscriptions.
	if err := stack.Stop(cliCfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("fwbridge shutdown complete")
	return nil
}

// initializeCLI parses flags and handles version/help early exits.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	if err := validateFlags(cliCfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n\n", appName, err)
		printDetailedHelp()
		return nil, false, fmt.Errorf("%w: %v", errUsage, err)
	}

	return cliCfg, false, nil
}

// loadDaemonConfig layers defaults, the optional config file, the
// environment and finally any CLI overrides.
func loadDaemonConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.SpecPath != "" {
		cfg.SpecPath = cliCfg.SpecPath
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// compileSpec loads the firmware spec and compiles the wire schema,
// checking that the requested target exists.
func compileSpec(path, target string, logger *slog.Logger) (*schema.Schema, error) {
	model, err := spec.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load firmware spec: %w", err)
	}

	if !model.HasTarget(target) {
		return nil, fmt.Errorf("target %q is not declared in %s (declared: %v)",
			target, path, model.Targets)
	}

	compiled, err := schema.Compile(model, logger)
	if err != nil {
		return nil, fmt.Errorf("compile wire schema: %w", err)
	}

	slog.Info("wire schema compiled",
		"protocol_version", compiled.Version(),
		"members", len(compiled.Members()),
		"targets", model.Targets)

	return compiled, nil
}

// connectNATS creates the NATS client from config and waits for the
// connection to come up.
func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	target string,
	metricsRegistry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + target),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	natsClient, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, nil
}

// setupBus builds the NATS-backed bus for the target, provisions its
// stream and opens the parameter store when the spec declares
// parameters.
func setupBus(
	ctx context.Context,
	natsClient *natsclient.Client,
	compiled *schema.Schema,
	target string,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) (*natsbus.Bus, bus.ParamStore, error) {
	fwBus, err := natsbus.New(natsbus.Deps{
		Client:          natsClient,
		Target:          target,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create bus: %w", err)
	}
	if err := fwBus.EnsureStream(ctx); err != nil {
		return nil, nil, fmt.Errorf("provision stream: %w", err)
	}

	var store bus.ParamStore
	if compiled.Params() != nil {
		paramStore, err := natsbus.OpenParamStore(ctx, natsbus.ParamStoreDeps{
			Client:          natsClient,
			Target:          target,
			Logger:          logger,
			MetricsRegistry: metricsRegistry,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open parameter store: %w", err)
		}
		store = paramStore
	}

	return fwBus, store, nil
}

// assembleComponents wires transport, bridge and the lifecycle stack.
// The bridge starts first so routing is live before any client can
// deliver a packet.
func assembleComponents(
	cfg *config.Config,
	compiled *schema.Schema,
	target string,
	fwBus *natsbus.Bus,
	store bus.ParamStore,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) (*component.Stack, *transport.Server, *bridge.Bridge, error) {
	server, err := transport.New(transport.Deps{
		Addr:            cfg.Transport.Addr,
		Path:            cfg.Transport.Path,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create transport: %w", err)
	}

	b, err := bridge.New(bridge.Deps{
		Schema:          compiled,
		Target:          target,
		Bus:             fwBus,
		Params:          store,
		Transmit:        server.Transmit,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create bridge: %w", err)
	}
	server.SetHandler(b.OnPacket)

	stack := &component.Stack{}
	stack.Add(b)
	stack.Add(server)

	return stack, server, b, nil
}
