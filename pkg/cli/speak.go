package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/export"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/urfave/cli/v3"
)

func speakCommand() *cli.Command {
	var (
		cfg     config
		panelID int64
		output  string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "panel",
			Usage:       "Panel whose dialogue is read aloud",
			Required:    true,
			Destination: &panelID,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "File, directory or gs://bucket/path to write the audio to",
			Value:       ".",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "speak",
		Usage:     "Read the dialogue of a panel aloud with the voice suggested by the story",
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

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			orch, err := cfg.newOrchestrator(ctx, gemini, store)
			if err != nil {
				return err
			}
			if _, err := orch.Open(ctx, entry); err != nil {
				return err
			}

			id := model.PanelID(panelID)
			audio, err := orch.Speak(ctx, id)
			if err != nil {
				return goerr.Wrap(err, "failed to synthesize speech")
			}

			name := export.FileName(entry.Title, fmt.Sprintf("panel_%d%s", id, export.AudioExtension(audio)))
			target := export.Resolve(output, name)
			err = export.NewDestination(cfg.credentials).Save(ctx, target, func(w io.Writer) error {
				return export.WriteAudio(w, audio)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Saved speech to %s\n", target)
			return nil
		},
	}
}
