package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/adapter"
	"github.com/m-mizutani/comicforge/pkg/usecase/chat"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		character string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "character",
			Aliases:     []string{"c"},
			Usage:       "Character to talk to. Defaults to the first speaking character",
			Destination: &character,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "chat",
		Usage:     "Talk with a character of a comic in history",
		ArgsUsage: "<comic-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			w := c.Root().Writer

			store, closeStore, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := findEntry(store, c.Args().First())
			if err != nil {
				return err
			}
			cm := entry.Comic()

			if character == "" {
				names := chat.Characters(cm)
				if len(names) == 0 {
					return goerr.New("comic has no speaking character", goerr.V("comic_id", cm.ID))
				}
				character = names[0]
				fmt.Fprintf(w, "Characters: %s\n", strings.Join(names, ", "))
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			session, err := chat.New(ctx, chat.NewInput{
				Gemini:    gemini,
				Comic:     cm,
				Character: character,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			// Transcripts are kept only when a bucket is configured
			var storage adapter.Storage
			if cfg.bucket != "" {
				storage, err = cfg.newStorage(ctx)
				if err != nil {
					return err
				}
				restored, err := session.Restore(ctx, storage)
				if err != nil {
					logging.From(ctx).Warn("failed to restore chat", logging.ErrAttr(err))
				} else if restored {
					fmt.Fprintf(w, "Continuing the previous conversation (%d messages)\n", len(session.Transcript()))
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     filepath.Join(cfg.dataDir, "chat_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start prompt")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Talking with %s from %q. Type 'exit' to quit.\n", session.Character(), cm.Title)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				reply, err := session.Send(ctx, message)
				if err != nil {
					logging.From(ctx).Error("failed to send message", logging.ErrAttr(err))
					continue
				}
				fmt.Fprintf(w, "%s: %s\n", session.Character(), reply)
			}

			if storage != nil {
				if err := session.Save(ctx, storage); err != nil {
					return goerr.Wrap(err, "failed to save chat")
				}
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}
