package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/interfaces"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/urfave/cli/v3"
)

func editCommand() *cli.Command {
	var (
		cfg         config
		panelID     int64
		instruction string
		imagePath   string
		offsetX     float64
		offsetY     float64
		scale       float64
		rotation    float64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "panel",
			Usage:       "Panel to edit",
			Required:    true,
			Destination: &panelID,
		},
		&cli.StringFlag{
			Name:        "instruction",
			Usage:       "Ask the image model to change the panel, e.g. 'make it rain'",
			Destination: &instruction,
		},
		&cli.StringFlag{
			Name:        "image",
			Usage:       "Replace the panel image with this file",
			Destination: &imagePath,
		},
		&cli.FloatFlag{
			Name:        "offset-x",
			Usage:       "Horizontal offset of the panel image in pixels",
			Destination: &offsetX,
		},
		&cli.FloatFlag{
			Name:        "offset-y",
			Usage:       "Vertical offset of the panel image in pixels",
			Destination: &offsetY,
		},
		&cli.FloatFlag{
			Name:        "scale",
			Usage:       "Zoom of the panel image",
			Destination: &scale,
		},
		&cli.FloatFlag{
			Name:        "rotation",
			Usage:       "Rotation of the panel image in degrees",
			Destination: &rotation,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit a panel of a comic in history",
		ArgsUsage: "<comic-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			placementSet := c.IsSet("offset-x") || c.IsSet("offset-y") || c.IsSet("scale") || c.IsSet("rotation")
			if instruction == "" && imagePath == "" && !placementSet {
				return goerr.New("nothing to edit: set --instruction, --image or a placement flag")
			}

			store, closeStore, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := findEntry(store, c.Args().First())
			if err != nil {
				return err
			}

			var client interfaces.GenerativeClient
			if instruction != "" {
				gemini, err := cfg.newGemini(ctx)
				if err != nil {
					return err
				}
				client = gemini
			}

			orch, err := cfg.newOrchestrator(ctx, client, store)
			if err != nil {
				return err
			}

			opened, err := orch.Open(ctx, entry)
			if err != nil {
				return err
			}
			id := model.PanelID(panelID)
			panel := opened.Panel(id)
			if panel == nil {
				return goerr.Wrap(model.ErrNotFound, "panel not found", goerr.V("panel_id", id))
			}

			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return goerr.Wrap(err, "failed to read image", goerr.V("path", imagePath))
				}
				img := model.Image{Data: data, MIMEType: http.DetectContentType(data)}
				if err := orch.UpdatePanelImage(ctx, id, img); err != nil {
					return err
				}
			}

			if instruction != "" {
				if err := orch.EditPanel(ctx, id, instruction); err != nil {
					fmt.Fprintln(c.Root().Writer, model.UserMessage(err))
					return err
				}
			}

			if placementSet {
				placement := panel.Placement
				if c.IsSet("offset-x") {
					placement.OffsetX = offsetX
				}
				if c.IsSet("offset-y") {
					placement.OffsetY = offsetY
				}
				if c.IsSet("scale") {
					placement.Scale = scale
				}
				if c.IsSet("rotation") {
					placement.Rotation = rotation
				}
				if err := orch.UpdatePanelPlacement(ctx, id, placement); err != nil {
					return err
				}
			}

			fmt.Fprintf(c.Root().Writer, "Panel %d of %s updated\n", id, entry.ID)
			return nil
		},
	}
}
