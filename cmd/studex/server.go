package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/studex/studex/internal/api"
	"github.com/studex/studex/internal/config"
	"github.com/studex/studex/internal/logging"
	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/remote/fakeapi"
)

const shutdownTimeout = 5 * time.Second

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// --- mcp ---

func newMCPCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve marketplace tools over MCP",
		Long: `Serve marketplace tools to an MCP client. By default the server speaks
stdio; with --http it serves streamable HTTP behind a bearer token.

Examples:
  studex mcp
  studex mcp --http 127.0.0.1:4100 --token s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			rt.app.Init(ctx)

			mcpSrv := api.NewMCPServer(api.MCPDeps{
				Session:  rt.app.Session,
				Auth:     rt.app,
				Searcher: remote.NewCachedSearcher(rt.client, config.Duration(rt.cfg.Search.CacheTTL, 0)),
				Jobs:     rt.app,
				Notify:   rt.app.Notify,
				History:  rt.store,
				PageSize: rt.cfg.Search.PageSize,
				Logger:   slog.Default().With("component", "mcp"),
			})

			if addr == "" {
				slog.Info("MCP server started", "transport", "stdio")
				err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("mcp stdio: %w", err)
				}
				return nil
			}

			if token == "" {
				token = os.Getenv("STUDEX_MCP_TOKEN")
			}
			if token == "" {
				token = uuid.NewString()
				printStatus(os.Stderr, "Bearer token", "%s", token)
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			printSuccess("MCP listening on http://%s/mcp", ln.Addr())
			srv := &http.Server{
				Handler:           api.NewHTTPHandler(mcpSrv, token),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serveHTTP(ctx, srv, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "serve streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --http (default: $STUDEX_MCP_TOKEN or a generated one)")
	return cmd
}

// --- dev-server ---

func newDevServerCmd() *cobra.Command {
	var addr string
	var demo bool
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory marketplace API for local development",
		Long: `Run an in-memory marketplace API with seeded services and jobs. Point the
client at it with api.base_url (the default, http://localhost:3000).

Examples:
  studex dev-server --demo
  studex dev-server --addr 127.0.0.1:3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, logs, err := logging.New(logging.Options{Level: cfg.Log.Level, Stderr: true})
			if err != nil {
				return err
			}
			defer logs.Close()

			if addr == "" {
				addr = cfg.DevServer.Addr
			}
			backend := fakeapi.New(fakeapi.Options{
				Secret:  []byte(cfg.DevServer.JWTSecret),
				Latency: config.Duration(cfg.DevServer.Latency, 0),
				Logger:  logger,
				Seed:    true,
			})
			if demo {
				u, err := backend.AddUser(remote.User{
					FirstName:     "Demo",
					LastName:      "Student",
					Email:         "demo@studex.dev",
					Username:      "demo",
					SchoolName:    "Computer Science",
					Level:         "300",
					Matric:        "CSC/20/0001",
					SkillCategory: remote.SkillHybrid,
					Bio:           "Demo account for local development",
				}, "password")
				if err != nil {
					return err
				}
				printStatus(os.Stderr, "Demo account", "%s / password", u.Email)
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			printSuccess("Dev API listening on http://%s", ln.Addr())
			srv := &http.Server{
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serveHTTP(cmd.Context(), srv, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: devserver.addr)")
	cmd.Flags().BoolVar(&demo, "demo", false, "create demo@studex.dev with password \"password\"")
	return cmd
}
