package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/usecase/history"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage recently completed comics",
		Commands: []*cli.Command{
			historyListCommand(),
			historyShowCommand(),
			historyDeleteCommand(),
		},
	}
}

// findEntry looks up an entry by id or by a unique id prefix
func findEntry(store *history.Store, arg string) (*model.HistoryEntry, error) {
	if arg == "" {
		return nil, goerr.New("comic id is required")
	}

	if entry, err := store.Get(model.ComicID(arg)); err == nil {
		return entry, nil
	}

	var found *model.HistoryEntry
	for _, e := range store.List() {
		if !strings.HasPrefix(string(e.ID), arg) && !strings.HasPrefix(strings.TrimPrefix(string(e.ID), "comic_"), arg) {
			continue
		}
		if found != nil {
			return nil, goerr.New("comic id is ambiguous", goerr.V("id", arg))
		}
		found = e
	}
	if found == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "comic is not in history", goerr.V("id", arg))
	}
	return found, nil
}

func historyListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List comics in history, newest first",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			store, closeStore, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entries := store.List()
			if len(entries) == 0 {
				fmt.Fprintln(c.Root().Writer, "No comics in history")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					string(e.ID),
					e.Title,
					fmt.Sprintf("%d", len(e.Panels)),
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}

			fmt.Fprintln(c.Root().Writer, renderTable(
				[]string{"ID", "Title", "Panels", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func historyShowCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "show",
		Usage:     "Show the panels of a comic in history",
		ArgsUsage: "<comic-id>",
		Flags:     globalFlags(&cfg),
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

			w := c.Root().Writer
			fmt.Fprintf(w, "%s (%s)\n", entry.Title, entry.ID)
			fmt.Fprintf(w, "Created: %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintln(w, renderPanels(entry.Comic()))
			return nil
		},
	}
}

func historyDeleteCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a comic from history",
		ArgsUsage: "<comic-id>",
		Flags:     globalFlags(&cfg),
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

			store.Delete(ctx, entry.ID)
			fmt.Fprintf(c.Root().Writer, "Deleted %s (%s)\n", entry.Title, entry.ID)
			return nil
		},
	}
}
