// Command voxhall is the main entry point for the Voxhall voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/voice"
	captureffmpeg "github.com/voxhall/voxhall/pkg/capture/ffmpeg"
	"github.com/voxhall/voxhall/pkg/playback"
	playbackffplay "github.com/voxhall/voxhall/pkg/playback/ffplay"
	"github.com/voxhall/voxhall/pkg/session"
	"github.com/voxhall/voxhall/pkg/session/gemini"
	"github.com/voxhall/voxhall/pkg/session/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; API keys usually arrive through it in development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxhall: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxhall: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxhall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxhall starting",
		"config", *configPath,
		"backend", cfg.Provider.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxhall",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Session backend ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	dialer, err := reg.CreateDialer(cfg.Provider)
	if err != nil {
		slog.Error("failed to create session backend", "backend", cfg.Provider.Name, "err", err)
		return 1
	}

	// ── Voice pipeline ────────────────────────────────────────────────────────
	ctrl := buildController(cfg, dialer)

	application, err := app.New(ctx, cfg, ctrl)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("assistant ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = shutdownApp(application)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	if err := shutdownApp(application); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func shutdownApp(application *app.App) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the session backends that ship with Voxhall
// into reg. Each factory receives a config.ProviderEntry and constructs a
// dialer from the real transport packages.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterDialer("gemini-live", func(entry config.ProviderEntry) (session.Dialer, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.ResolveAPIKey(), opts...), nil
	})

	reg.RegisterDialer("openai-realtime", func(entry config.ProviderEntry) (session.Dialer, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.ResolveAPIKey(), opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered session backend", "name", name)
	}
}

// buildController assembles the voice controller from the production audio
// endpoints: an ffmpeg microphone and an ffplay output clock per session.
func buildController(cfg *config.Config, dialer session.Dialer) *voice.Controller {
	var captureOpts []captureffmpeg.Option
	if cfg.Audio.CaptureSource != "" {
		captureOpts = append(captureOpts, captureffmpeg.WithSource(cfg.Audio.CaptureSource))
	}
	opener := captureffmpeg.New(captureOpts...)

	clocks := func(sampleRate int) (playback.Clock, error) {
		return playbackffplay.Open(sampleRate, playbackffplay.WithVolume(cfg.Audio.PlaybackVolume))
	}

	return voice.NewController(opener, dialer, clocks, cfg.Provider.Name, voice.Options{
		Session: session.Config{
			Voice:        cfg.Persona.Voice,
			Instructions: cfg.Persona.Instructions,
			Language:     cfg.Persona.Language,
			InputRate:    cfg.Audio.InputRate,
			OutputRate:   cfg.Audio.OutputRate,
		},
		FrameSize: cfg.Audio.FrameSize,
		OnStateChange: func(s voice.State) {
			slog.Info("pipeline state changed", "state", s)
		},
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxhall — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", cfg.Provider.Name)
	printRow("Model", orDefault(cfg.Provider.Model, "(backend default)"))
	printRow("Voice", orDefault(cfg.Persona.Voice, "(backend default)"))
	printRow("Capture", fmt.Sprintf("%d Hz / %d samples", cfg.Audio.InputRate, cfg.Audio.FrameSize))
	printRow("Playback", fmt.Sprintf("%d Hz / vol %d", cfg.Audio.OutputRate, cfg.Audio.PlaybackVolume))
	if cfg.Transcript.PostgresDSN != "" {
		printRow("Archive", "postgres")
	} else {
		printRow("Archive", "(disabled)")
	}
	printRow("Listen addr", orDefault(cfg.Server.ListenAddr, "(disabled)"))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
