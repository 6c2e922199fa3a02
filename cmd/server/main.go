package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/metrics"
	"github.com/wirehub/chatd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	addr := flag.String("addr", "", "Listen address override (host:port)")
	framing := flag.String("framing", "", "Framing override: binary or line")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		host, port, err := server.SplitAddr(*addr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", *addr).Msg("invalid -addr")
		}
		cfg.Server.Host, cfg.Server.Port = host, port
	}
	if *framing != "" {
		cfg.Server.Framing = *framing
	}

	srv, err := server.New(cfg, logger, metrics.New())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-sigCh:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
		srv.Stop()
	}
}
