package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"peripheral/internal/mcp"
	"peripheral/internal/version"
)

// TokenEnv supplies the stdio session's bearer token when --token is unset.
const TokenEnv = "PERIPHERAL_TOKEN"

var mcpToken string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP session over stdio",
	Long: `Start a Model Context Protocol session over stdio (newline-delimited
JSON-RPC 2.0). The client must send initialize before calling tools.

When tokens are configured the session presents --token (or $PERIPHERAL_TOKEN)
to the access gate on every call. Logs go to stderr.

This command is typically launched by an MCP client, not run by hand.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpToken, "token", "", "Bearer token for this session (default $"+TokenEnv+")")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	token := mcpToken
	if token == "" {
		token = os.Getenv(TokenEnv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.gate.Limiter().StartCleanup(ctx, time.Minute)

	logger.Info("Starting MCP server", "version", version.Version)

	server := mcp.NewServer(a.dispatcher, a.gate, logger)
	if err := server.Serve(ctx, os.Stdin, os.Stdout, token); err != nil {
		logger.Error("MCP server error", "error", err.Error())
		return err
	}
	return nil
}
