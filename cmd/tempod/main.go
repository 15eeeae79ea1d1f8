package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/app"
	"github.com/dokzlo13/tempod/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	once := flag.Bool("once", false, "Draw a single frame and exit")
	skipUpdate := flag.Bool("skip-update", false, "Do not check for updates on startup")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(GetVersion())
		return
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if *once || *skipUpdate {
		cfg.Update.Enabled = false
	}

	log.Info().
		Str("config", configPath).
		Str("version", GetVersion()).
		Msg("Starting tempod")

	// Create application
	application, err := app.New(cfg, GetVersion(), GetUserAgent())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		reading := application.RefreshOnce(ctx)
		cancel()
		log.Info().
			Str("today", reading.Today.String()).
			Str("tomorrow", reading.Tomorrow.String()).
			Str("output", cfg.Display.Output).
			Msg("Single frame drawn")
		if err := application.Stop(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
		return
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	if application.Updated() {
		log.Info().Msg("Exiting after update")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
