package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/queued-dl/queued/server"
	"github.com/queued-dl/queued/server/config"
	"github.com/queued-dl/queued/server/openid"

	"github.com/spf13/viper"
)

func main() {
	// Parse optional config path from flag
	var configFile string
	flag.StringVar(&configFile, "conf", "./config.yml", "Config file path")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3033)
	v.SetDefault("paths.download_path", ".")
	v.SetDefault("paths.downloader_path", "yt-dlp")
	v.SetDefault("paths.local_database_path", ".")
	v.SetDefault("logging.log_path", "queued.log")
	v.SetDefault("logging.enable_file_logging", false)
	v.SetDefault("downloads.concurrency", 2)
	v.SetDefault("downloads.max_retries", 3)
	v.SetDefault("downloads.auto_retry", false)
	v.SetDefault("downloads.stop_grace_seconds", 10)
	v.SetDefault("downloads.auto_start", true)
	v.SetDefault("downloads.archive_completed", true)
	v.SetDefault("authentication.require_auth", false)

	// Env binding
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	cfg := config.Instance()
	cfg.SetPath(configFile)

	// Load YAML file if exists, write the defaults out if not
	if err := v.ReadInConfig(); err != nil {
		var notFound *fs.PathError
		if errors.As(err, &notFound) {
			if err := cfg.WriteDefault(configFile); err != nil {
				slog.Warn("failed writing default config", "error", err)
			}
		}
		slog.Debug("using defaults")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to load config", "error", err)
	}

	if cfg.Downloads.Concurrency <= 0 || runtime.NumCPU() <= 2 {
		cfg.Downloads.Concurrency = 2
	}

	// Configure OpenID if needed
	openid.Configure()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"concurrency", cfg.Downloads.Concurrency,
	)

	if err := server.Run(ctx); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited cleanly")
}
