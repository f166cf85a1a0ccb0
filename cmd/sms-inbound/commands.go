package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/sms-inbound/internal/config"
	"github.com/mattjoyce/sms-inbound/internal/doctor"
	"github.com/mattjoyce/sms-inbound/internal/inspect"
	"github.com/mattjoyce/sms-inbound/internal/lock"
	"github.com/mattjoyce/sms-inbound/internal/log"
	"github.com/mattjoyce/sms-inbound/internal/storage"
	"github.com/mattjoyce/sms-inbound/internal/tui/tokenmgr"
	"github.com/mattjoyce/sms-inbound/internal/tui/watch"
)

const statusTimeout = 3 * time.Second

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runAccountNoun(args []string) int {
	if len(args) < 1 {
		printAccountNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printAccountNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "create":
		if hasHelpFlag(actionArgs) {
			printAccountCreateHelp()
			return 0
		}
		return runAccountCreate(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown account action: %s\n", action)
		return 1
	}
}

func runMessageNoun(args []string) int {
	if len(args) < 1 {
		printMessageNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printMessageNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printMessageInspectHelp()
			return 0
		}
		return runMessageInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown message action: %s\n", action)
		return 1
	}
}

// --- SYSTEM ---

type statusCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Detail    string `json:"detail,omitempty"`
	ActivePID int    `json:"active_pid,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(*configPath)

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			state := "OK"
			if !c.OK {
				state = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("%s: %s (%s)\n", c.Name, state, c.Detail)
			} else {
				fmt.Printf("%s: %s\n", c.Name, state)
			}
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

// collectStatus checks config, database and PID lock, and probes the admin
// API of a running instance. Dependent checks fail when the config cannot be
// loaded.
func collectStatus(configPath string) statusReport {
	var report statusReport

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		report.Checks = append(report.Checks,
			statusCheck{Name: "config_load", Detail: err.Error()},
			statusCheck{Name: "database", Detail: "config not loaded"},
			statusCheck{Name: "pid_lock", Detail: "config not loaded"},
		)
		return report
	}
	report.Checks = append(report.Checks, statusCheck{Name: "config_load", OK: true, Detail: cfg.SourcePath})

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	dbCheck := statusCheck{Name: "database", Detail: cfg.Database.Driver}
	if store, err := storage.Open(ctx, storeOptions(cfg), log.Discard()); err != nil {
		dbCheck.Detail = err.Error()
	} else {
		if err := store.Ping(ctx); err != nil {
			dbCheck.Detail = err.Error()
		} else {
			dbCheck.OK = true
		}
		_ = store.Close()
	}
	report.Checks = append(report.Checks, dbCheck)

	// A held lock means another instance is running, so start would fail.
	pidCheck := statusCheck{Name: "pid_lock", OK: true, Detail: cfg.Service.PIDFile}
	held, pid := lock.Held(cfg.Service.PIDFile)
	if held {
		pidCheck.OK = false
		pidCheck.ActivePID = pid
		pidCheck.Detail = fmt.Sprintf("held by pid %d", pid)
	}
	report.Checks = append(report.Checks, pidCheck)

	if held && cfg.API.Enabled {
		report.Checks = append(report.Checks, probeHealthz(ctx, "http://"+dialAddr(cfg.API.Listen)+"/healthz"))
	}

	report.Healthy = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Healthy = false
		}
	}
	return report
}

func probeHealthz(ctx context.Context, url string) statusCheck {
	check := statusCheck{Name: "api"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		check.Detail = "not reachable"
		return check
	}
	defer resp.Body.Close()
	check.OK = resp.StatusCode == http.StatusOK
	check.Detail = resp.Status
	return check
}

// dialAddr turns a listen address like ":8080" into one a client can dial.
func dialAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return strings.Replace(listen, "0.0.0.0", "127.0.0.1", 1)
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Admin API URL")
	apiKey := fs.String("api-key", firstEnv("SMS_API_KEY", config.EnvAuthSecret), "API bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SMS_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// --- CONFIG ---

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := config.ResolvePath(configPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "No configuration file found; pass --config")
		return 1
	}

	report, err := config.LockConfig(path, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		for _, f := range report.Files {
			if f.Exists {
				fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found (optional)\n", f.Filename)
		}
	}

	if dryRun {
		fmt.Printf("Dry run: %s not written\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")

	flags, positional := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sms-inbound config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runConfigToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	scopesArg := fs.String("scopes", "", "Comma-separated scopes (skips the interactive picker)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	scopes := parseCSV(*scopesArg)
	if len(scopes) == 0 {
		final, err := tea.NewProgram(*tokenmgr.New()).Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		picked, ok := final.(tokenmgr.Model).Result()
		if !ok {
			fmt.Fprintln(os.Stderr, "No scopes selected; token not created")
			return 1
		}
		scopes = picked
	}

	for _, s := range scopes {
		if !knownScope(s) {
			fmt.Fprintf(os.Stderr, "Unknown scope %q\n", s)
			return 1
		}
	}

	token, err := tokenmgr.NewToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	snippet, err := tokenmgr.Snippet(token, scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println("# Add under api.auth.tokens in config.yaml, then run 'sms-inbound config lock'.")
	fmt.Print(snippet)
	return 0
}

func knownScope(s string) bool {
	for _, k := range tokenmgr.Scopes {
		if k.Scope == s {
			return true
		}
	}
	return false
}

func parseCSV(in string) []string {
	var out []string
	for _, part := range strings.Split(in, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitFlagsAndPositionals lets positionals appear before flags.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		if takesValue[arg] && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return flags, positional
}

// --- ACCOUNT ---

type accountOutput struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SecretKey string    `json:"secret_key"`
	CreatedAt time.Time `json:"created_at"`
}

func runAccountCreate(args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	name := fs.String("name", "", "Account name")
	secret := fs.String("secret", "", "Secret key (generated when empty)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "Usage: sms-inbound account create --name NAME [--secret KEY] [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	key := *secret
	if key == "" {
		if key, err = tokenmgr.NewToken(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, storeOptions(cfg), log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	acct, err := store.CreateAccount(ctx, *name, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create account: %v\n", err)
		return 1
	}

	out := accountOutput{ID: acct.ID, Name: acct.Name, SecretKey: key, CreatedAt: acct.CreatedAt}
	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("Created account %s (%s)\n", out.Name, out.ID)
	fmt.Printf("secret_key: %s\n", out.SecretKey)
	fmt.Println("Store the secret now; it is sent by clients in the X-Secret-Key header.")
	return 0
}

// --- MESSAGE ---

func runMessageInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	reveal := fs.Bool("reveal", false, "Print the full body and unmasked sender")

	flags, positional := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sms-inbound message inspect <message_id> [--config PATH] [--json] [--reveal]")
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, storeOptions(cfg), log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer store.Close()

	opts := inspect.Options{Reveal: *reveal}
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, store, positional[0], opts)
	} else {
		out, err = inspect.BuildReport(ctx, store, positional[0], opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// --- HELP ---

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sms-inbound system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sms-inbound config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, get, token")
}

func printAccountNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sms-inbound account <action> [flags]")
	fmt.Fprintln(w, "Actions: create")
}

func printMessageNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sms-inbound message <action> [flags]")
	fmt.Fprintln(w, "Actions: inspect")
}

func printMessageInspectHelp() {
	fmt.Println("Usage: sms-inbound message inspect <message_id> [--config PATH] [--json] [--reveal]")
	fmt.Println("Show rune, byte and script details of a stored message. Digits and sender are masked unless --reveal.")
}

func printSystemStartHelp() {
	fmt.Println("Usage: sms-inbound system start [--config PATH] [--env-file PATH]...")
	fmt.Println("Start the webhook listener, and the admin API when enabled, in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: sms-inbound system status [--config PATH] [--json]")
	fmt.Println("Check config loading, database reachability and the PID lock.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: sms-inbound system watch [flags]")
	fmt.Println()
	fmt.Println("Live TUI of webhook activity read from the admin API.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Admin API URL (default: http://127.0.0.1:8080)")
	fmt.Println("  --api-key KEY    Bearer token with events:ro (or SMS_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll messages")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: sms-inbound config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and report errors and warnings.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: sms-inbound config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Write BLAKE3 hashes of config.yaml and .env to .checksums.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: sms-inbound config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration. Secrets are masked.")
}

func printConfigTokenHelp() {
	fmt.Println("Usage: sms-inbound config token [--scopes messages:ro,events:ro]")
	fmt.Println("Generate an admin API token and print its config entry.")
}

func printAccountCreateHelp() {
	fmt.Println("Usage: sms-inbound account create --name NAME [--secret KEY] [--config PATH] [--json]")
	fmt.Println("Register an account. The secret is generated unless given.")
}
