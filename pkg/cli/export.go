package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/export"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/urfave/cli/v3"
)

const (
	formatZip = "zip"
	formatPNG = "png"
)

func exportCommand() *cli.Command {
	var (
		cfg      config
		output   string
		format   string
		columns  int64
		cellSize int64
		noText   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "File, directory or gs://bucket/path to write to",
			Value:       ".",
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "zip (one file per frame) or png (single page). Guessed from the output name when empty",
			Destination: &format,
		},
		&cli.IntFlag{
			Name:        "columns",
			Usage:       "Columns of the png page",
			Value:       3,
			Destination: &columns,
		},
		&cli.IntFlag{
			Name:        "cell-size",
			Usage:       "Pixel size of one png page cell",
			Value:       512,
			Destination: &cellSize,
		},
		&cli.BoolFlag{
			Name:        "no-captions",
			Usage:       "Do not print dialogue under png page cells",
			Destination: &noText,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "export",
		Usage:     "Export a comic from history as a frames archive or a page image",
		ArgsUsage: "<comic-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			store, closeStore, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := findEntry(store, c.Args().First())
			if err != nil {
				return err
			}

			opts := export.DefaultSheetOptions()
			opts.Columns = int(columns)
			opts.CellSize = int(cellSize)
			opts.Captions = !noText

			target, err := exportComicWith(ctx, &cfg, entry.Comic(), output, format, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Exported to %s\n", target)
			return nil
		},
	}
}

func exportComic(ctx context.Context, cfg *config, c *model.Comic, output, format string) error {
	_, err := exportComicWith(ctx, cfg, c, output, format, export.DefaultSheetOptions())
	return err
}

func guessFormat(output string) string {
	if strings.EqualFold(path.Ext(output), ".png") {
		return formatPNG
	}
	return formatZip
}

// exportComicWith writes c to output and returns the resolved target
func exportComicWith(ctx context.Context, cfg *config, c *model.Comic, output, format string, opts export.SheetOptions) (string, error) {
	if format == "" {
		format = guessFormat(output)
	}

	var (
		name  string
		write func(w io.Writer) error
	)
	switch format {
	case formatZip:
		name = export.FileName(c.Title, "frames.zip")
		write = func(w io.Writer) error { return export.WriteArchive(w, c) }
	case formatPNG:
		name = export.FileName(c.Title, "comic.png")
		write = func(w io.Writer) error { return export.WriteSheet(w, c, opts) }
	default:
		return "", goerr.New("unknown export format", goerr.V("format", format), goerr.V("supported", []string{formatZip, formatPNG}))
	}

	target := export.Resolve(output, name)
	dest := export.NewDestination(cfg.credentials)

	if err := dest.Save(ctx, target, write); err != nil {
		return "", goerr.Wrap(err, "failed to export comic", goerr.V("target", target))
	}
	return target, nil
}
