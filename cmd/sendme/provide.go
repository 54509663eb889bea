package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/cascadelab/sendme/internal/cmdutil"
	"github.com/cascadelab/sendme/pkg/provider"
)

func provide(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one path to share")
	}
	path := cCtx.Args().First()
	format, err := cmdutil.ParseHashFormat(cCtx.String("format"))
	if err != nil {
		return err
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = fmt.Sprintf(" importing %s...", path)
	sp.Start()
	session, err := provider.Start(cCtx.Context, path,
		provider.WithPort(uint16(cCtx.Uint("port"))),
	)
	sp.Stop()
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	entryType := "file"
	if info.IsDir() {
		entryType = "directory"
	}
	tkt := session.Ticket()
	fmt.Printf("imported %s %s, %s, hash %s\n",
		entryType, path,
		humanize.Bytes(session.TotalSize()),
		cmdutil.FormatIdentity(tkt.Root, format),
	)
	for _, e := range session.Collection().Entries() {
		fmt.Printf("    %s %s\n", cmdutil.FormatIdentity(e.Identity, format), e.Name)
	}
	fmt.Println("to get this data, use")
	fmt.Printf("    sendme receive %s\n", tkt)

	// Serve until interrupted; the signal-aware context closes the loop.
	return session.Serve(cCtx.Context)
}
