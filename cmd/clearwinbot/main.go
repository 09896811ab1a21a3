// Command clearwinbot scans Polymarket for near-certain outcomes and buys
// them within fixed exposure caps. It loads configuration, validates it,
// sets up signal handling and runs the scan loop in paper or live mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alanyoungcy/clearwinbot/internal/app"
	"github.com/alanyoungcy/clearwinbot/internal/config"
	"github.com/alanyoungcy/clearwinbot/internal/crypto"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to configuration file (TOML or YAML)")
	mode := flag.String("mode", "", "trading mode: paper or live (overrides config)")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	encryptKeyPath := flag.String("encrypt-key", "", "write the configured private key, encrypted with the key password, to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Flags win over the file and the environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "once":
			cfg.Scan.Once = *once
		}
	})

	if *encryptKeyPath != "" {
		return encryptKey(logger, cfg, *encryptKeyPath)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	out, closeLog, err := logOutput(cfg.Logging.File)
	if err != nil {
		logger.Error("failed to open log file",
			slog.String("path", cfg.Logging.File),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer closeLog()

	logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("clearwin bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	logger.Info("clearwin bot stopped")
	return 0
}

// encryptKey seals the raw private key from the config or PRIVATE_KEY into a
// key file that wallet.encrypted_key_path can point at.
func encryptKey(logger *slog.Logger, cfg *config.Config, path string) int {
	if cfg.Wallet.PrivateKey == "" {
		logger.Error("encrypt key: no private key configured")
		return 1
	}
	if err := crypto.WriteKeyFile(path, cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword); err != nil {
		logger.Error("encrypt key failed", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("encrypted key written", slog.String("path", path))
	return 0
}

// logOutput returns stdout, teed into path when one is configured.
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stdout, f), func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
