package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sendme",
		Usage: "share a file or directory with a remote peer, or receive one",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging.",
			},
		},
		Before: func(cCtx *cli.Context) error {
			if cCtx.Bool("verbose") {
				logging.SetAllLoggers(logging.LevelDebug)
			} else {
				logging.SetAllLoggers(logging.LevelError)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "provide",
				Aliases:   []string{"share"},
				Usage:     "Import a file or directory and serve it until interrupted.",
				UsageText: "provide <path>",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  "port",
						Value: 0,
						Usage: "Port to listen on (0 for an ephemeral port).",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: "hex",
						Usage: "Hash display format: hex or cid.",
					},
				},
				Action: provide,
			},
			{
				Name:      "receive",
				Aliases:   []string{"get"},
				Usage:     "Fetch the collection a ticket refers to and write it to disk.",
				UsageText: "receive <ticket>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Value:   ".",
						Usage:   "Directory to export into.",
					},
				},
				Action: receive,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
