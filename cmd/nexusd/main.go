package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nexusd/internal/backend"
	"nexusd/internal/config"
	"nexusd/internal/gateway"
	"nexusd/internal/health"
	"nexusd/internal/httpapi"
	"nexusd/internal/provider"
	"nexusd/internal/registry"
	"nexusd/internal/reqlog"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var cfgPath string
	cfg := config.Config{}

	root := &cobra.Command{
		Use:           "nexusd",
		Short:         "Local LLM gateway with an OpenAI-compatible API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded := config.Config{}
			if cfgPath != "" {
				var err error
				loaded, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config %s: %w", cfgPath, err)
				}
			}
			mergeFlags(cmd, &loaded, cfg)
			loaded.ApplyDefaults()
			return serve(loaded)
		},
	}

	root.Flags().StringVarP(&cfgPath, "config", "c", envOr("NEXUSD_CONFIG", ""), "Path to config file (json, yaml or toml)")
	root.Flags().StringVar(&cfg.Addr, "addr", envOr("NEXUSD_ADDR", ""), "HTTP listen address, e.g. :8080")
	root.Flags().StringVar(&cfg.ModelsDir, "models-dir", envOr("NEXUSD_MODELS_DIR", ""), "Directory to scan for *.gguf model files")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", envOr("NEXUSD_LOG_LEVEL", ""), "Log level: debug|info|warn|error")
	root.Flags().StringVar(&cfg.Backend, "backend", envOr("NEXUSD_BACKEND", ""), "Backend kind: spawned|proxy|cli|daemon")
	root.Flags().StringVar(&cfg.EngineBin, "engine-bin", "", "Path to the llama-server binary (spawned backend)")
	root.Flags().StringVar(&cfg.ProxyBaseURL, "proxy-url", "", "Base URL of an already-running engine (proxy backend)")
	root.Flags().StringVar(&cfg.CLIBin, "cli-bin", "", "Path to the llama-cli binary (cli backend)")
	root.Flags().StringVar(&cfg.DaemonBaseURL, "daemon-url", "", "Base URL of the Ollama daemon (daemon backend)")
	return root
}

// mergeFlags copies explicitly-set flag values over the file config.
func mergeFlags(cmd *cobra.Command, dst *config.Config, flags config.Config) {
	set := func(name string) bool { f := cmd.Flags().Lookup(name); return f != nil && f.Changed }
	if set("addr") || (dst.Addr == "" && flags.Addr != "") {
		dst.Addr = flags.Addr
	}
	if set("models-dir") || (dst.ModelsDir == "" && flags.ModelsDir != "") {
		dst.ModelsDir = flags.ModelsDir
	}
	if set("log-level") || (dst.LogLevel == "" && flags.LogLevel != "") {
		dst.LogLevel = flags.LogLevel
	}
	if set("backend") || (dst.Backend == "" && flags.Backend != "") {
		dst.Backend = flags.Backend
	}
	if set("engine-bin") {
		dst.EngineBin = flags.EngineBin
	}
	if set("proxy-url") {
		dst.ProxyBaseURL = flags.ProxyBaseURL
	}
	if set("cli-bin") {
		dst.CLIBin = flags.CLIBin
	}
	if set("daemon-url") {
		dst.DaemonBaseURL = flags.DaemonBaseURL
	}
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	models, err := registry.ScanDir(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("scan models dir %s: %w", cfg.ModelsDir, err)
	}
	log.Info().Int("models", len(models)).Str("dir", cfg.ModelsDir).Msg("model catalog loaded")

	starter := backend.New(backend.Config{
		Kind:          provider.BackendKind(cfg.Backend),
		EngineBin:     cfg.EngineBin,
		Host:          cfg.EngineHost,
		PortStart:     cfg.PortStart,
		PortEnd:       cfg.PortEnd,
		CtxSize:       cfg.CtxSize,
		Threads:       cfg.Threads,
		GPULayers:     cfg.GPULayers,
		Parallel:      cfg.Parallel,
		ReadyMarker:   cfg.ReadyMarker,
		ProxyBaseURL:  cfg.ProxyBaseURL,
		CLIBin:        cfg.CLIBin,
		DaemonBaseURL: cfg.DaemonBaseURL,
	}, log)

	reg := registry.New(models, starter, log)
	rl := reqlog.New(cfg.LogCapacity)
	gw := gateway.New(reg, rl, log)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	mon := health.New(cfg.ProxyBaseURL, cfg.DaemonBaseURL,
		time.Duration(cfg.HealthIntervalSec)*time.Second, log)
	go mon.Run(baseCtx)

	mux := httpapi.NewMux(httpapi.Deps{
		Inference:   gw,
		Models:      reg,
		Logs:        rl,
		Reach:       mon,
		Log:         log,
		BaseCtx:     baseCtx,
		CORSEnabled: cfg.CORSEnabled,
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Msg("nexusd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancelBase()
	reg.StopAll()
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
