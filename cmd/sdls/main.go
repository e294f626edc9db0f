// sdls lists the contents of a FAT volume on an SD or MMC card image. The
// image is read either directly or through a simulated card speaking the SPI
// protocol, which exercises the whole driver stack.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dargueta/sdmmc/drivers/spisim"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func main() {
	app := newApp(afero.NewOsFs(), os.Stdout, os.Stderr)
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %s\n", err.Error())
		os.Exit(1)
	}
}

func newApp(fs afero.Fs, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "sdls",
		Usage:     "List the files on an SD/MMC card image",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "raw image of the card, e.g. made with `dd`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "card",
				Value: "sdhc",
				Usage: "profile of the simulated card: " + strings.Join(spisim.ProfileSlugs(), ", "),
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "read the image directly instead of through a simulated card",
			},
			&cli.BoolFlag{
				Name:  "data-crc",
				Usage: "verify the CRC of every block read from the card",
			},
			&cli.IntFlag{
				Name:  "volume",
				Value: -1,
				Usage: "partition to mount (0-3), or -1 for the first usable one",
			},
			&cli.IntFlag{
				Name:  "read-retries",
				Value: 3,
				Usage: "how many times to retry a block read that timed out",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: "text",
				Usage: "output format: text or csv",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log protocol and file system details to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[PATH]",
				Action: func(ctx *cli.Context) error {
					return listDirectory(ctx, fs)
				},
			},
			{
				Name:  "info",
				Usage: "Show the card type and volume geometry",
				Action: func(ctx *cli.Context) error {
					return showInfo(ctx, fs)
				},
			},
			{
				Name:  "profiles",
				Usage: "List the simulated card profiles",
				Action: func(ctx *cli.Context) error {
					return listProfiles(ctx)
				},
			},
		},
	}
}
