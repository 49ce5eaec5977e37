package main

import (
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
)

var errUsage = errors.New("usage: <ip_address> <port>")

// options 为终端客户端的命令行选项。
type options struct {
	Host string
	Port string

	Framing     string
	NoColor     bool
	Attempts    int
	DialTimeout time.Duration
	QuitTimeout time.Duration
}

func parseFlags(name string, args []string, errOut io.Writer) (*options, error) {
	opts := &options{}

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(errOut)
	flags.StringVar(&opts.Framing, "framing", framer.NameRaw, "message framing, must match the server (raw|line)")
	flags.BoolVar(&opts.NoColor, "no-color", false, "disable ANSI colors")
	flags.IntVar(&opts.Attempts, "attempts", 3, "dial attempts before giving up")
	flags.DurationVar(&opts.DialTimeout, "dial-timeout", 5*time.Second, "timeout of a single dial attempt")
	flags.DurationVar(&opts.QuitTimeout, "quit-timeout", 2*time.Second, "how long /quit waits for the server goodbye")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() != 2 {
		return nil, errUsage
	}
	opts.Host, opts.Port = flags.Arg(0), flags.Arg(1)
	return opts, nil
}

func (o *options) addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

func (o *options) newFramer() (framer.Framer, error) {
	return framer.New(o.Framing, 0)
}
