package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"github.com/jkaninda/radkit-mcp/internal/mcpserver"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type buildInfo struct {
	Server          string `json:"server"`
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Built           string `json:"built"`
	ProtocolVersion string `json:"mcp_protocol_version"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Server:          mcpserver.ServerName,
		Version:         version,
		Commit:          commit,
		Built:           date,
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
	}
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version and MCP protocol version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printVersion(cmd.OutOrStdout(), currentBuild(), versionJSON)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}

func printVersion(w io.Writer, b buildInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	_, err := fmt.Fprintf(w, "radkit-mcp %s (commit: %s, built: %s)\n%s, MCP protocol %s\n",
		b.Version, b.Commit, b.Built, b.Server, b.ProtocolVersion)
	return err
}
