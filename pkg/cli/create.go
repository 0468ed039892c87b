package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/usecase/comic"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func createCommand() *cli.Command {
	var (
		cfg      config
		req      request
		noPrompt bool
		output   string
	)

	flags := requestFlags(&req)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "no-prompt",
			Usage:       "Do not offer to retry failed panels",
			Sources:     cli.EnvVars("COMICFORGE_NO_PROMPT"),
			Destination: &noPrompt,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Export the finished comic. A .png target writes the page, anything else the frames archive. gs://bucket/path is supported",
			Destination: &output,
		},
	)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, generationFlags(&cfg)...)

	return &cli.Command{
		Name:  "create",
		Usage: "Generate a new comic from reference photos",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			w := c.Root().Writer

			prefs, paths, err := req.resolve()
			if err != nil {
				return err
			}
			images, err := readReferenceImages(paths)
			if err != nil {
				return err
			}

			store, closeStore, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			orch, err := cfg.newOrchestrator(ctx, gemini, store)
			if err != nil {
				return err
			}

			prog := newProgress(os.Stderr)
			unsubscribe := orch.Subscribe(prog.onEvent)
			defer unsubscribe()

			prog.start()
			created, err := orch.CreateComic(ctx, prefs, images)
			if err != nil {
				prog.stop()
				fmt.Fprintln(w, model.UserMessage(err))
				return err
			}
			prog.setTotal(len(created.Panels))

			err = orch.Wait(ctx)
			prog.stop()
			if err != nil {
				return err
			}

			view := orch.Snapshot()
			fmt.Fprintf(w, "%s (%s)\n", view.Comic.Title, view.Comic.ID)
			fmt.Fprintln(w, renderPanels(view.Comic))

			if !noPrompt {
				if err := retryLoop(ctx, w, orch); err != nil {
					return err
				}
				view = orch.Snapshot()
			}

			if store.Contains(view.Comic.ID) {
				fmt.Fprintf(w, "Saved to history: %s\n", view.Comic.ID)
			} else if failed := failedPanels(view.Comic); len(failed) > 0 {
				fmt.Fprintf(w, "%d panel(s) failed. The comic is not saved to history.\n", len(failed))
			}

			if output != "" {
				if err := exportComic(ctx, &cfg, view.Comic, output, ""); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func failedPanels(c *model.Comic) []model.PanelID {
	var ids []model.PanelID
	for _, p := range c.Panels {
		if p.Status.Effective() == model.PanelStatusFailed {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// retryLoop offers to regenerate failed panels until none fail or the user declines
func retryLoop(ctx context.Context, w io.Writer, orch *comic.Orchestrator) error {
	for {
		failed := failedPanels(orch.Snapshot().Comic)
		if len(failed) == 0 {
			return nil
		}

		ok, err := confirm(fmt.Sprintf("%d panel(s) failed %v. Retry them?", len(failed), failed))
		if err != nil {
			return goerr.Wrap(err, "failed to read answer")
		}
		if !ok {
			return nil
		}

		for _, id := range failed {
			status, err := orch.RetryPanel(ctx, id)
			if err != nil {
				logging.From(ctx).Warn("retry failed", "panel_id", id, logging.ErrAttr(err))
				continue
			}
			fmt.Fprintf(w, "panel %d: %s\n", id, status)
		}
	}
}

func renderPanels(c *model.Comic) string {
	rows := make([][]string, 0, len(c.Panels))
	for _, p := range c.Panels {
		rows = append(rows, []string{
			fmt.Sprintf("%d", p.ID),
			string(p.Status.Effective()),
			p.Character,
			p.Dialogue,
		})
	}
	return renderTable(
		[]string{"Panel", "Status", "Character", "Dialogue"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	)
}
