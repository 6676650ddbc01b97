package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ruzakiff/crazygpt/internal/app"
	"github.com/Ruzakiff/crazygpt/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: $BROKER_CONFIG or ./config.yaml)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] [serve|migrate]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: *configPath}
	command := flag.Arg(0)

	var err error
	switch command {
	case "", "serve":
		err = app.RunServer(ctx, cfg)
	case "migrate":
		err = app.Migrate(ctx, cfg)
		if err == nil {
			log.Info("migrations applied")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Errorf("%s failed", commandName(command))
		os.Exit(1)
	}
}

func commandName(command string) string {
	if command == "" {
		return "serve"
	}
	return command
}
