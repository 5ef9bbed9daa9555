package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ntclient/internal/logging"
	"github.com/urfave/cli/v3"
)

func main() {
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ntclient: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	f := &flags{}
	return &cli.Command{
		Name:  "ntclient",
		Usage: "Connect to an NT4 server, publish and subscribe to topics, and print values",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to TOML config file",
				Sources:     cli.EnvVars("NTCLIENT_CONFIG"),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "host",
				Usage:       "server host",
				Sources:     cli.EnvVars("NTCLIENT_HOST"),
				Destination: &f.Host,
			},
			&cli.IntFlag{
				Name:        "port",
				Usage:       "server port",
				Sources:     cli.EnvVars("NTCLIENT_PORT"),
				Destination: &f.Port,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "client name sent in the connection path",
				Sources:     cli.EnvVars("NTCLIENT_NAME"),
				Destination: &f.Name,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error, disabled)",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve Prometheus metrics on this address",
				Sources:     cli.EnvVars("NTCLIENT_METRICS_ADDR"),
				Destination: &f.MetricsAddr,
			},
			&cli.StringSliceFlag{
				Name:        "publish",
				Usage:       "publish a topic, as name:type (repeatable)",
				Destination: &f.Publish,
			},
			&cli.StringSliceFlag{
				Name:        "subscribe",
				Usage:       "subscribe to a topic, or to a prefix when it ends in / (repeatable)",
				Destination: &f.Subscribe,
			},
			&cli.DurationFlag{
				Name:        "status-interval",
				Usage:       "how often to print connection status and values",
				Value:       defaultStatusInterval,
				Destination: &f.StatusInterval,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f.set = cmd.IsSet
			return run(ctx, f)
		},
	}
}
