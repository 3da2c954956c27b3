package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parleychat/parley/internal/app"
	"github.com/parleychat/parley/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the server entrypoint and exits on unrecoverable errors.
func main() {
	if errRun := run(os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("server failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and serves until interrupted.
func run(args []string) error {
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.String("port", "", "server port (overrides config)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	cfg, errLoad := config.Load(config.ResolveConfigPath(*cfgPath))
	if errLoad != nil {
		return errLoad
	}
	if strings.TrimSpace(*port) != "" {
		parsed, errPort := config.ParsePort(*port)
		if errPort != nil {
			return errPort
		}
		cfg.Port = parsed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.RunServer(ctx, cfg)
}
