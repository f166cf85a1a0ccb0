package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/sms-inbound/internal/api"
	"github.com/mattjoyce/sms-inbound/internal/auth"
	"github.com/mattjoyce/sms-inbound/internal/config"
	"github.com/mattjoyce/sms-inbound/internal/events"
	"github.com/mattjoyce/sms-inbound/internal/lock"
	"github.com/mattjoyce/sms-inbound/internal/log"
	"github.com/mattjoyce/sms-inbound/internal/storage"
	"github.com/mattjoyce/sms-inbound/internal/tracing"
	"github.com/mattjoyce/sms-inbound/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	eventBufferSize = 256
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "account":
		return runAccountNoun(args)
	case "message":
		return runMessageNoun(args)

	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: sms-inbound version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("sms-inbound %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`sms-inbound - SMS webhook ingestion service

Usage:
  sms-inbound <noun> <action> [flags]

Resources (Nouns):
  system    Service lifecycle and health
  config    Configuration validation and integrity
  account   Client accounts allowed to submit messages
  message   Stored messages

System Commands:
  system start      Start the webhook (and admin API) in the foreground
  system status     Check config, database and PID lock
  system watch      Live TUI of accepted and rejected webhooks

Config Commands:
  config check      Validate configuration (errors and warnings)
  config lock       Write .checksums for config.yaml and .env
  config get        Read one value from the resolved configuration
  config token      Mint a scoped admin API token

Account Commands:
  account create    Register an account and print its secret

Message Commands:
  message inspect   Diagnose the stored text of one message

General:
  version           Show version information
  help              Show this help message

Configuration is read from --config, then $SMS_CONFIG, then ./config.yaml.
DATABASE_URL, PORT, SMS_DEBUG and AUTH_SECRET override the file.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// loadConfigForTool resolves and loads configuration for a CLI action.
func loadConfigForTool(configPath string) (*config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

func storeOptions(cfg *config.Config) storage.Options {
	db := cfg.Database
	return storage.Options{
		Driver:             db.Driver,
		URL:                db.URL,
		Path:               db.Path,
		MaxConns:           db.MaxConns,
		MinConns:           db.MinConns,
		MaxConnLifetime:    db.MaxConnLifetime,
		MaxConnIdleTime:    db.MaxConnIdleTime,
		InsecureSkipVerify: db.InsecureSkipVerify,
		Bootstrap:          db.Bootstrap,
	}
}

func tracingConfig(cfg *config.Config) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.ServiceName = cfg.Service.Name
	tc.ServiceVersion = currentVersionInfo().Version
	tc.SampleRate = cfg.Tracing.SampleRate
	if cfg.Tracing.Exporter != "" {
		tc.Exporter = cfg.Tracing.Exporter
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	return tc
}

func apiConfig(cfg *config.Config, webhookPath string) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.Auth.APIKey,
		Tokens:      tokens,
		WebhookPath: webhookPath,
	}
}

// --- ACTION IMPLEMENTATIONS ---

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runStart(args []string) int {
	var envFiles stringList
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Var(&envFiles, "env-file", "Env file to load before reading config (repeatable, default .env)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	loadedEnv, err := config.LoadEnvFiles(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		return 1
	}

	path := config.ResolvePath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	level := cfg.Service.LogLevel
	if cfg.Service.Debug {
		level = "debug"
	}
	log.Setup(level)
	logger := log.WithComponent("main")
	logger.Info("sms-inbound starting", "version", version, "config", cfg.SourcePath, "env_files", loadedEnv)
	if cfg.Service.Debug {
		logger.Warn("debug mode enabled: message bodies are logged and returned in responses")
	}

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer := tracing.NewManager(tracingConfig(cfg), log.WithComponent("tracing"))
	if err := tracer.Initialize(ctx); err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := storage.Open(ctx, storeOptions(cfg), log.WithComponent("storage"))
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("database opened", "driver", cfg.Database.Driver)

	webhookConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		logger.Error("failed to configure webhook", "error", err)
		return 1
	}

	hub := events.NewHub(eventBufferSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	components := []component{{
		name:  "webhook",
		start: webhook.New(webhookConfig, store, hub, log.WithComponent("webhook")).Start,
	}}
	if cfg.API.Enabled {
		apiServer := api.New(apiConfig(cfg, webhookConfig.Path), store, hub, log.WithComponent("api"))
		components = append(components, component{name: "api", start: apiServer.Start})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("sms-inbound running (press Ctrl+C to stop)",
		"listen", webhookConfig.Listen, "path", webhookConfig.Path,
		"credential_source", webhookConfig.Credential.Source)

	// Servers have drained when runComponents returns; the store closes after.
	if err := runComponents(ctx, components); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("sms-inbound stopped")
	return 0
}

// component is a long-running server started by runStart.
type component struct {
	name  string
	start func(context.Context) error
}

// runComponents starts every component and blocks until ctx is cancelled or
// one of them fails. It then cancels the rest and waits for all of them to
// return. The first failure is returned; context.Canceled is not a failure.
func runComponents(ctx context.Context, components []component) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	errCh := make(chan error, len(components))
	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", c.name, err)
			}
		}(c)
	}

	var err error
	select {
	case <-runCtx.Done():
	case err = <-errCh:
	}
	stop()
	wg.Wait()

	if err == nil {
		select {
		case err = <-errCh:
		default:
		}
	}
	return err
}
