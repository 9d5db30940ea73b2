package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/saker-ai/denoise-bridge/internal/config"
	"github.com/saker-ai/denoise-bridge/pkg/runtime"
)

var version = "0.1.0"

// CLI defines the server command line.
type CLI struct {
	Config  string `short:"c" type:"path" help:"Path to conf.yaml (defaults to searching upward from the working dir)"`
	NoWatch bool   `help:"Do not hot-reload the config file"`
	Version bool   `short:"v" help:"Show version information"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("denoise-bridge"),
		kong.Description("Streaming noise suppression server"),
		kong.UsageOnError(),
	)
	if cli.Version {
		fmt.Println("denoise-bridge", version)
		return
	}

	srv, err := runtime.New(cli.Config)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start", zap.Error(err))
	}
	logger := srv.Logger()
	defer logger.Sync()

	if !cli.NoWatch {
		if err := srv.WatchConfig(); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	timeout := srv.Config().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
