package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/radkit-mcp/internal/auth"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/credentials"
)

var (
	envConfigPath  string
	envIdentity    string
	envKeyPassword string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print RADKIT_*_B64 variables for the local certificate directory",
	Long: `Reads certificate.pem, private_key_encrypted.pem and chain.pem from the local
certificate directory of the identity and prints them base64-encoded as .env
lines, together with the encoded key password. The output holds secrets.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig(envConfigPath)
		if err != nil {
			return err
		}
		identity := envIdentity
		if identity == "" {
			settings, err := resolveSettings()
			if err != nil {
				return err
			}
			identity = settings.Identity()
		}
		if identity == "" {
			return fmt.Errorf("--identity or %s is required", config.IdentityVariables)
		}
		password := envKeyPassword
		if password == "" {
			password = os.Getenv("RADKIT_KEY_PASSWORD")
		}

		p := auth.Selector{Root: cfg.CertRoot()}.Files(identity)
		out, err := credentials.EncodeFiles(p.Cert, p.Key, p.CA, password)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	envCmd.Flags().StringVar(&envConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	envCmd.Flags().StringVar(&envIdentity, "identity", "", "identity whose certificates to encode (default: RADKIT_IDENTITY)")
	envCmd.Flags().StringVar(&envKeyPassword, "key-password", "", "plain-text private key password (default: RADKIT_KEY_PASSWORD)")
}
