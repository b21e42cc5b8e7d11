// Command agentrelay runs the query orchestrator: it discovers the
// configured backends, routes inbound queries by capability, and
// relays streamed responses back to callers.
//
// Usage:
//
//	agentrelay serve                        # start the orchestrator
//	agentrelay serve --config config.yaml   # with a config file
//	agentrelay backend <name> --addr :9001  # run a built-in demo backend
//	agentrelay version                      # show version information
//	agentrelay health                       # check a running server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/agentrelay/agentrelay/a2a"
	"github.com/agentrelay/agentrelay/api"
	"github.com/agentrelay/agentrelay/backends/docsearch"
	"github.com/agentrelay/agentrelay/backends/extapi"
	"github.com/agentrelay/agentrelay/backends/imagecaption"
	"github.com/agentrelay/agentrelay/config"
	"github.com/agentrelay/agentrelay/internal/httpserve"
	"github.com/agentrelay/agentrelay/internal/metrics"
	"github.com/agentrelay/agentrelay/journal"
	"github.com/agentrelay/agentrelay/local"
	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/relay"
	"github.com/agentrelay/agentrelay/routing"
	"github.com/agentrelay/agentrelay/session"
	"github.com/agentrelay/agentrelay/tasks"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "backend":
		runBackend(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting agentrelay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	collector := metrics.NewCollector("agentrelay", prometheus.DefaultRegisterer)

	client := a2a.NewClient(&a2a.ClientConfig{
		Timeout:           cfg.Session.RequestTimeout,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		DiscoveryRetries:  cfg.Session.DiscoveryRetries,
		CardTTL:           cfg.Session.CardTTL,
	})

	reg := registry.New(client, logger).WithMetrics(collector)
	for _, b := range cfg.Backends {
		reg.Register(b.ID, b.URL)
	}

	// Eager discovery at startup; failures are tolerated and retried on
	// first use when relay.discover_on_first_use is enabled.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Session.RequestTimeout)
	reg.EnsureDiscovered(startupCtx)
	cancelStartup()

	var recorder relay.Recorder
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Warn("journal unavailable, task records disabled", zap.Error(err))
		} else {
			defer jnl.Close()
			recorder = jnl
		}
	}

	engine, err := relay.NewEngine(relay.Options{
		Tracker:  tasks.NewTracker(logger),
		Registry: reg,
		Matcher:  routing.NewKeywordMatcher(),
		Sessions: session.NewFactory(client, logger),
		Local:    local.NewCapabilityHandler(reg),
		Metrics:  collector,
		Recorder: recorder,
		Logger:   logger,
		Config: &relay.Config{
			ChannelCapacity:    cfg.Relay.ChannelCapacity,
			DiscoverOnFirstUse: cfg.Relay.DiscoverOnFirstUse,
		},
	})
	if err != nil {
		logger.Fatal("failed to build relay engine", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.Server.SubmitRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.SubmitRatePerSecond), cfg.Server.SubmitBurst)
	}

	handler := api.NewServer(api.Options{
		Engine:        engine,
		Registry:      reg,
		Journal:       jnl,
		Metrics:       collector,
		SubmitLimiter: limiter,
		Logger:        logger,
	})

	serverCfg := httpserve.DefaultConfig()
	serverCfg.Addr = cfg.Server.Addr
	serverCfg.ReadHeaderTimeout = cfg.Server.ReadTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	srv := httpserve.NewManager(handler, serverCfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()
	logger.Info("agentrelay stopped")
}

// runBackend serves one of the built-in demo backends over the
// delegation protocol, for local development and demos.
func runBackend(args []string) {
	fs := flag.NewFlagSet("backend", flag.ExitOnError)
	addr := fs.String("addr", ":9001", "Listen address")
	baseURL := fs.String("base-url", "", "Advertised base URL (defaults to http://localhost<addr>)")
	logLevel := fs.String("log-level", "info", "Log level")
	apiURL := fs.String("api-url", "", "Target endpoint for the extapi backend")
	apiKey := fs.String("api-key", "", "Bearer token for the extapi backend")

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: agentrelay backend <docsearch|imagecaption|extapi> [options]")
		os.Exit(1)
	}
	name := args[0]
	fs.Parse(args[1:])

	var executor a2a.Executor
	switch name {
	case "docsearch":
		executor = docsearch.NewExecutor(nil)
	case "imagecaption":
		executor = imagecaption.NewExecutor()
	case "extapi":
		extCfg := extapi.DefaultConfig()
		if *apiURL != "" {
			extCfg.APIURL = *apiURL
		}
		extCfg.APIKey = *apiKey
		executor = extapi.NewExecutor(extCfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown backend: %s (available: docsearch, imagecaption, extapi)\n", name)
		os.Exit(1)
	}

	logger := initLogger(config.LogConfig{Level: *logLevel, Format: "console"})
	defer logger.Sync()

	if *baseURL == "" {
		*baseURL = "http://localhost" + *addr
	}

	serverCfg := a2a.DefaultServerConfig()
	serverCfg.BaseURL = *baseURL
	serverCfg.Logger = logger

	listenCfg := httpserve.DefaultConfig()
	listenCfg.Addr = *addr
	listenCfg.ShutdownTimeout = 10 * time.Second

	logger.Info("starting demo backend",
		zap.String("backend", name),
		zap.String("addr", *addr),
		zap.String("base_url", *baseURL),
	)
	srv := httpserve.NewManager(a2a.NewServer(executor, serverCfg), listenCfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start backend server", zap.Error(err))
	}
	srv.WaitForShutdown()
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("agentrelay %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentrelay - capability-routed query orchestrator

Usage:
  agentrelay <command> [options]

Commands:
  serve     Start the orchestrator server
  backend   Run a built-in demo backend
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'backend':
  --addr <addr>       Listen address (default :9001)
  --base-url <url>    Advertised base URL
  --log-level <lvl>   Log level (default info)
  --api-url <url>     Target endpoint (extapi only)
  --api-key <key>     Bearer token (extapi only)

Examples:
  agentrelay serve
  agentrelay serve --config /etc/agentrelay/config.yaml
  agentrelay backend docsearch --addr :9001
  agentrelay backend imagecaption --addr :9002
  agentrelay backend extapi --addr :9003 --api-url http://localhost:8000/api/predict
  agentrelay health --addr http://localhost:8080
  agentrelay version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
