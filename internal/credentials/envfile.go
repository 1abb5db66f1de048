package credentials

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/config"
)

// EncodeFiles renders existing credential files plus a plain-text key
// password as .env lines, suitable for EnvironmentCredentials mode.
func EncodeFiles(certPath, keyPath, caPath, password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: key password is required", apperr.ErrConfiguration)
	}
	entries := []struct {
		name string
		path string
	}{
		{config.EnvCertB64, certPath},
		{config.EnvKeyB64, keyPath},
		{config.EnvCAB64, caPath},
	}

	var sb strings.Builder
	for _, e := range entries {
		data, err := os.ReadFile(e.path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", apperr.ErrFileNotFound, e.path)
			}
			return "", fmt.Errorf("reading %s: %w", e.path, err)
		}
		fmt.Fprintf(&sb, "%s=%s\n", e.name, base64.StdEncoding.EncodeToString(data))
	}
	fmt.Fprintf(&sb, "%s=%s\n", config.EnvKeyPasswordB64, base64.StdEncoding.EncodeToString([]byte(password)))
	return sb.String(), nil
}
