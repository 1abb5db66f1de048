// radkit-mcp exposes Cisco RADKit device operations to MCP clients.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "radkit-mcp",
	Short: "RADKit MCP Server: network device inventory, CLI and SNMP tools for MCP clients.",
	Long: `radkit-mcp authenticates to RADKit once, connects to the default service and
serves device inventory, attribute, CLI execution and SNMP GET tools over the
Model Context Protocol (stdio or SSE).`,
	RunE:          runServe, // Default to serve.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, authCmd, envCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
