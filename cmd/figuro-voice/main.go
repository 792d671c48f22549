// Command figuro-voice runs the Figuro storefront voice assistant.
//
// Usage:
//
//	figuro-voice [flags] [chat|serve]
//
// chat (the default) starts an interactive session in the terminal. serve
// exposes the conversation context API, health probes and metrics over
// HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/figuro/voice/internal/app"
	"github.com/figuro/voice/internal/config"
	"github.com/figuro/voice/internal/observe"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags := pflag.NewFlagSet("figuro-voice", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the configuration")
	logLevel := flags.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	addr := flags.String("addr", "", "override server.listen_addr")
	serveHTTP := flags.Bool("http", false, "also serve the HTTP API while chatting")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	command := "chat"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}
	if command != "chat" && command != "serve" {
		fmt.Fprintf(os.Stderr, "figuro-voice: unknown command %q (want chat or serve)\n", command)
		return 2
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "figuro-voice: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watchPath, err := loadConfig(*configPath, flags.Changed("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "figuro-voice: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "figuro-voice: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logOut, closeLog := logWriter(cfg.Server.LogFile)
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	slog.Info("figuro-voice starting",
		"command", command,
		"config", watchPath,
		"log_level", cfg.Server.LogLevel,
		"context_store", cfg.ContextStore.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "figuro-voice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)
	providers, err := buildProviders(cfg, reg, command == "chat")
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	if command == "chat" {
		printStartupSummary(os.Stdout, cfg)
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchPath != "" {
		w, err := config.NewWatcher(watchPath, func(d config.ConfigDiff, next *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
			}
			application.ApplyConfig(d, next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if command == "serve" || *serveHTTP {
		g.Go(func() error { return application.Run(gctx) })
	}
	if command == "chat" {
		g.Go(func() error {
			if err := newChat(application.Conversation(), os.Stdin, os.Stdout).Run(gctx); err != nil {
				return err
			}
			stop()
			return nil
		})
	}
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file is an error only when the path was
// given explicitly; otherwise defaults and the environment are used and no
// file is watched.
func loadConfig(path string, explicit bool) (*config.Config, string, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		cfg, err = config.Default()
		return cfg, "", err
	case errors.Is(err, fs.ErrNotExist):
		return nil, "", fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	default:
		return nil, "", err
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logWriter returns stderr, or a size-rotated file when path is set.
func logWriter(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stderr, func() {}
	}
	l := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return l, func() { _ = l.Close() }
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      Figuro voice: startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProviders(w, "NLU", cfg.Providers.NLU)
	printProviders(w, "TTS", cfg.Providers.TTS)
	printProviders(w, "Local voice", []config.ProviderEntry{cfg.Providers.LocalVoice})
	printProviders(w, "STT", []config.ProviderEntry{cfg.Providers.STT})
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Language", cfg.Voice.Language)
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Context", cfg.ContextStore.Backend)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProviders(w io.Writer, kind string, entries []config.ProviderEntry) {
	value := ""
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if value != "" {
			value += " → "
		}
		value += e.Name
	}
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}
