package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/multimodal-dialog/internal/config"
	"github.com/saker-ai/multimodal-dialog/pkg/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: conf.yaml in the working directory or a parent)")
	dump := flag.Bool("dump-config", false, "print the effective configuration and exit")
	flag.Parse()

	if *dump {
		cfg, err := appconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		out, err := appconfig.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dump config: %v\n", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	runner, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to initialize dialog runner", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "dialog failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
