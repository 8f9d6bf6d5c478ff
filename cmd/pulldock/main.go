package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/pulldock/internal/config"
	"github.com/mattjoyce/pulldock/internal/dispatch"
	"github.com/mattjoyce/pulldock/internal/events"
	"github.com/mattjoyce/pulldock/internal/history"
	"github.com/mattjoyce/pulldock/internal/inspect"
	"github.com/mattjoyce/pulldock/internal/lock"
	"github.com/mattjoyce/pulldock/internal/log"
	"github.com/mattjoyce/pulldock/internal/tui"
	"github.com/mattjoyce/pulldock/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
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

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "config":
		return runConfigNoun(args)
	case "delivery":
		return runDeliveryNoun(args)

	// --- ROOT COMMANDS ---
	case "start", "serve":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
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
		fmt.Fprintln(os.Stderr, "Usage: pulldock version [--json]")
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

	fmt.Printf("pulldock %s\n", info.Version)
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

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
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
	fmt.Print(`pulldock - Deployment webhook receiver for GitHub push events

Usage:
  pulldock <command> [flags]

Commands:
  start             Run the webhook receiver in the foreground (alias: serve)
  watch             Real-time delivery monitoring TUI
  version           Show version information

Config Commands:
  config check      Validate syntax, policy, and integrity
  config show       Print the effective configuration
  config get        Read a single configuration value
  config set        Set a configuration value (--dry-run or --apply)
  config lock       Authorize current state (update integrity hashes)

Delivery Commands:
  delivery list     Show recent webhook deliveries
  delivery show     Show one delivery with its action results

General:
  --version         Show version information
  help              Show this help message

Use 'pulldock <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

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
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "set":
		if hasHelpFlag(actionArgs) {
			printConfigSetHelp()
			return 0
		}
		return runConfigSet(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runDeliveryNoun(args []string) int {
	if len(args) < 1 {
		printDeliveryNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printDeliveryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printDeliveryListHelp()
			return 0
		}
		return runDeliveryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printDeliveryShowHelp()
			return 0
		}
		return runDeliveryShow(actionArgs)
	case "help":
		printDeliveryNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown delivery action: %s\n", action)
		return 1
	}
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

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pulldock config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show, get, set, lock")
}

func printDeliveryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pulldock delivery <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show")
}

func printStartHelp() {
	fmt.Println("Usage: pulldock start [--config PATH]")
	fmt.Println("Run the webhook receiver in the foreground.")
}

func printWatchHelp() {
	fmt.Println("Usage: pulldock watch [flags]")
	fmt.Println()
	fmt.Println("Real-time delivery monitoring TUI.")
	fmt.Println("Shows server health, recent deliveries, and the live event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL        Server base URL (default: http://localhost:8090)")
	fmt.Println("  --token TOKEN    Admin bearer token (or PULLDOCK_ADMIN_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate deliveries")
}

func printDeliveryListHelp() {
	fmt.Println("Usage: pulldock delivery list [--config PATH] [--limit N] [--project ID] [--json]")
	fmt.Println("Show recent webhook deliveries from the history database.")
}

func printDeliveryShowHelp() {
	fmt.Println("Usage: pulldock delivery show <delivery_id> [--config PATH] [--json]")
	fmt.Println("Show one delivery with its per-action results.")
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if err := log.Setup(cfg.Server.LogLevel, cfg.Server.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	logger := log.WithComponent("main")
	logger.Info("pulldock starting", "version", version, "config", *configPath)

	pidLockPath := lock.PathFor(cfg.History.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	store, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("history database opened", "path", cfg.History.Path)

	hub := events.NewHub(256)
	disp := dispatch.New(cfg, store, hub)
	srv := webhook.New(cfg, disp, store, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()

	logger.Info("pulldock running (press Ctrl+C to stop)",
		"listen", cfg.ListenAddr(),
		"projects", len(cfg.Projects),
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("pulldock stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8090", "Server base URL")
	token := fs.String("token", os.Getenv("PULLDOCK_ADMIN_TOKEN"), "Admin bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := tui.NewWatch(*baseURL, *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runDeliveryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of deliveries to show")
	projectID := fs.String("project", "", "Only show deliveries for this project")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	store, code := openHistoryForTool(*configPath)
	if store == nil {
		return code
	}
	defer store.Close()

	var report string
	var err error
	if *jsonOut {
		report, err = inspect.BuildJSONListReport(context.Background(), store, *limit, *projectID)
	} else {
		report, err = inspect.BuildListReport(context.Background(), store, *limit, *projectID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delivery list failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runDeliveryShow(args []string) int {
	// Custom flag parsing so flags work AFTER the delivery id, like
	// 'pulldock delivery show <id> --json'.
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	var deliveryID string
	var remainingArgs []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && deliveryID == "" {
			deliveryID = arg
		} else {
			remainingArgs = append(remainingArgs, arg)
		}
	}

	if err := fs.Parse(remainingArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if deliveryID == "" {
		fmt.Fprintln(os.Stderr, "Usage: pulldock delivery show <delivery_id> [--config PATH] [--json]")
		return 1
	}

	store, code := openHistoryForTool(configPath)
	if store == nil {
		return code
	}
	defer store.Close()

	var report string
	var err error
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), store, deliveryID)
	} else {
		report, err = inspect.BuildReport(context.Background(), store, deliveryID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delivery show failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

// openHistoryForTool resolves the config and opens the history database for
// read-side CLI actions. Returns a nil store and an exit code on failure.
func openHistoryForTool(configPath string) (*history.Store, int) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}

	store, err := history.Open(context.Background(), cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open history database: %v\n", err)
		return nil, 1
	}
	return store, 0
}

func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}
