// Command server publishes the list-users service.
//
//	server [-config path] [manual|automatic|multiple] [json|binary]
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
	"user-rpc/codec"
	"user-rpc/config"
	"user-rpc/logging"
	"user-rpc/userservice"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default $CONFIG_PATH)")
	listen := flag.String("listen", "", "Address to listen on, overrides the config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [manual|automatic|multiple] [json|binary]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	mode, err := userservice.ParseMode(flag.Arg(0))
	if err != nil {
		logger.Fatal("invalid mode", zap.Error(err))
	}
	ct, err := codec.ParseCodecType(flag.Arg(1))
	if err != nil {
		logger.Fatal("invalid codec", zap.Error(err))
	}

	logger.Info("starting server",
		zap.String("mode", string(mode)),
		zap.Stringer("codec", ct),
		zap.String("service", cfg.Server.Service),
		zap.String("method", mode.MethodName()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunServer(ctx, cfg, mode, ct, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
