// costguard serve entrypoint: loads configuration, constructs the engine,
// and serves the HTTP surface until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/helmdesk/costguard/internal/config"
	"github.com/helmdesk/costguard/internal/costguard"
	"github.com/helmdesk/costguard/internal/server"
)

func main() {
	configPath := flag.String("config", "costguard.yaml", "path to the YAML config file")
	port := flag.Int("port", 0, "override server.port")
	flag.Parse()

	// .env is optional; real env vars win over file values.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "costguard: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	initLogging(cfg.Logging)

	guard := costguard.New(cfg.CostGuard)
	srv := server.New(guard, cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
