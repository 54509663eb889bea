package main

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/cascadelab/sendme/pkg/fetch"
	"github.com/cascadelab/sendme/pkg/ticket"
)

func receive(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one ticket")
	}
	t, err := ticket.Parse(cCtx.Args().First())
	if err != nil {
		return err
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " fetching..."
	sp.Start()
	start := time.Now()
	coll, total, err := fetch.Fetch(cCtx.Context, t, cCtx.String("out"))
	sp.Stop()
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	rate := float64(total) / elapsed.Seconds()
	fmt.Printf("received %d files, %s in %s (%s/s)\n",
		coll.Len(),
		humanize.Bytes(total),
		elapsed.Round(time.Millisecond),
		humanize.Bytes(uint64(rate)),
	)
	return nil
}
