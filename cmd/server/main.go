package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lk2023060901/chatrelay-go/application"
	"github.com/lk2023060901/chatrelay-go/internal/chatroom"
	zlog "github.com/lk2023060901/chatrelay-go/pkg/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := application.New(os.Args[1:])
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatrelay error:", err)
		return 1
	}
	defer zlog.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(zlog.S().Infof)); err != nil {
		zlog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	cfg, err := chatroom.LoadConfig(app.Config())
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatrelay error:", err)
		return 1
	}

	args := app.Args()
	switch {
	case len(args) > 1:
		fmt.Fprintf(os.Stderr, "Usage: %s [port]\n", filepath.Base(os.Args[0]))
		return 1
	case len(args) == 1:
		port, err := strconv.Atoi(args[0])
		if err != nil || port <= cfg.MinPort || port > chatroom.MaxPort {
			fmt.Fprintf(os.Stderr, "Invalid port number. Port must be greater than %d and less than or equal to %d.\n",
				cfg.MinPort, chatroom.MaxPort)
			return 1
		}
		cfg.Port = port
	}

	version := application.Version()
	srv, err := chatroom.NewServer(cfg,
		chatroom.WithConsole(os.Stdin),
		chatroom.WithVersion(version),
		chatroom.WithLogger(app.Logger("chatroom")),
		chatroom.WithExitHook(func() {
			_ = zlog.Sync()
			os.Exit(0)
		}),
	)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			fmt.Fprintf(os.Stderr, "Port %d is already in use.\n", cfg.Port)
		} else {
			fmt.Fprintln(os.Stderr, "chatrelay error:", err)
		}
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.HandleSignals(ctx, func(sig os.Signal) {
		sctx, span := zlog.NewIntentContext("signal", sig.String())
		defer span.End()
		srv.Shutdown(sctx)
	})

	if err := srv.Run(ctx); err != nil {
		zlog.Error("chatrelay stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
