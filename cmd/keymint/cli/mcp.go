package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	kmcp "github.com/keymint/keymint/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key issuance,
listing and deactivation as tools. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for clients that launch keymint as a subprocess.

In HTTP mode, the server listens on the specified port using the Streamable
HTTP transport.`,
		Example: `  keymint mcp                              # stdio mode
  keymint mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd)
		},
	}

	cmd.Flags().String("transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().Int("port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(cmd *cobra.Command) error {
	a, err := openApp(cmd, "mcp.transport", "transport", "mcp.port", "port")
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := kmcp.NewMCPServer(a.keys, a.ownerDirectory(), versionString(), a.logger)

	switch a.cfg.MCP.Transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", a.cfg.MCP.Port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", a.cfg.MCP.Transport)
	}
}
