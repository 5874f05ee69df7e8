// Command client calls the list-users service once and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"user-rpc/app"
	"user-rpc/config"
	"user-rpc/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default $CONFIG_PATH)")
	url := flag.String("url", "", "Service URL, overrides the config")
	method := flag.String("method", "", "Remote method name, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *method != "" {
		cfg.Client.Method = *method
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resp, err := app.RunClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("calling service", zap.String("url", cfg.Client.URL), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	if err := app.PrintSummary(os.Stdout, resp); err != nil {
		logger.Error("printing response", zap.Error(err))
		os.Exit(1)
	}
}
