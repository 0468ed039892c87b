package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/comicforge/pkg/service/mcp"
	"github.com/m-mizutani/comicforge/pkg/utils/logging"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve streamable HTTP on this address instead of stdio, e.g. 127.0.0.1:8080",
			Sources:     cli.EnvVars("COMICFORGE_MCP_HTTP"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, generationFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Run an MCP server exposing comic generation tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

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
			defer orch.Reset()

			srv := mcp.New(orch, store, Version)

			if addr == "" {
				logging.From(ctx).Info("serving MCP over stdio")
				return srv.Run(ctx, &mcpsdk.StdioTransport{})
			}

			server := &http.Server{
				Addr:              addr,
				Handler:           srv.HTTPHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logging.From(ctx).Info("serving MCP over HTTP", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return goerr.Wrap(err, "mcp http server failed", goerr.V("addr", addr))
			}
			return nil
		},
	}
}
