package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/lk2023060901/chatrelay-go/internal/network/connector"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, filepath.Base(os.Args[0]), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, name string, args []string, in io.Reader, out, errOut io.Writer) int {
	opts, err := parseFlags(name, args, errOut)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			fmt.Fprintf(errOut, "Usage: %s <ip_address> <port>\n", name)
		}
		return 1
	}

	f, err := opts.newFramer()
	if err != nil {
		fmt.Fprintln(errOut, "Invalid framing:", err)
		return 1
	}

	r := newRenderer(out, opts.NoColor)
	client := newChatClient(r)

	conn, err := connector.NewTCPConnector(connector.Config{
		Framer:      f,
		DialTimeout: opts.DialTimeout,
		MaxAttempts: opts.Attempts,
	}).Dial(ctx, opts.addr(), client)
	if err != nil {
		fmt.Fprintln(errOut, "Connection failed:", err)
		return 1
	}

	client.run(ctx, conn, in, opts.QuitTimeout)
	<-conn.Done()
	r.Info("Client terminated.")
	return 0
}
