package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/radkit-mcp/internal/auth"
	"github.com/jkaninda/radkit-mcp/internal/config"
)

var authConfigPath string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Show which authentication mode serve would use, without logging in",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(authConfigPath)
		if err != nil {
			return err
		}
		settings, err := resolveSettings()
		if err != nil {
			return err
		}
		return describeAuth(os.Stdout, auth.Selector{Root: cfg.CertRoot()}, settings)
	},
}

func init() {
	authCmd.Flags().StringVar(&authConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

// describeAuth prints the selected mode and the credential sources it reads.
func describeAuth(w io.Writer, sel auth.Selector, settings *config.Settings) error {
	mode, err := sel.Select(settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "identity:       %s\n", settings.Identity())
	fmt.Fprintf(w, "service serial: %s\n", orNone(settings.ServiceSerial()))
	fmt.Fprintf(w, "mode:           %s\n", mode)

	switch mode {
	case auth.EnvironmentCredentials:
		fmt.Fprintf(w, "credentials:    %s, %s, %s, %s (written to temporary files at login)\n",
			config.EnvCertB64, config.EnvKeyB64, config.EnvCAB64, config.KeyPasswordVariables)
	case auth.LocalCertificateDirectory:
		p := sel.Files(settings.Identity())
		fmt.Fprintf(w, "certificate:    %s\n", p.Cert)
		fmt.Fprintf(w, "private key:    %s\n", p.Key)
		fmt.Fprintf(w, "CA chain:       %s\n", p.CA)
		if settings.KeyPassword() == "" {
			fmt.Fprintf(w, "key password:   none (%s not set)\n", config.KeyPasswordVariables)
		}
	case auth.InteractiveLogin:
		fmt.Fprintln(w, "credentials:    none; login is interactive")
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
