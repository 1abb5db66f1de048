// Package auth decides how the server authenticates to the RADKit cloud and
// loads the credential bundle the chosen mode needs.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/config"
	"github.com/jkaninda/radkit-mcp/internal/credentials"
)

// Domain is the cloud domain under which local identities are stored.
const Domain = "prod.radkit-cloud.cisco.com"

// Local certificate directory file names.
const (
	CertFile = "certificate.pem"
	KeyFile  = "private_key_encrypted.pem"
	CAFile   = "chain.pem"
)

// Mode is an authentication strategy.
type Mode int

const (
	EnvironmentCredentials Mode = iota + 1
	LocalCertificateDirectory
	InteractiveLogin
)

func (m Mode) String() string {
	switch m {
	case EnvironmentCredentials:
		return "env_vars"
	case LocalCertificateDirectory:
		return "local_certs"
	case InteractiveLogin:
		return "username_login"
	}
	return "unknown"
}

// UsesCertificate reports whether the mode logs in with a credential bundle.
func (m Mode) UsesCertificate() bool {
	return m == EnvironmentCredentials || m == LocalCertificateDirectory
}

// Selector picks an authentication mode. Root is the local certificate root,
// normally ~/.radkit.
type Selector struct {
	Root   string
	TmpDir string // Where EnvironmentCredentials writes its files. Default: os.TempDir().
}

// Paths are the three files of a local certificate directory.
type Paths struct {
	Cert string
	Key  string
	CA   string
}

// Directory returns <Root>/identities/<Domain>/<identity>.
func (s Selector) Directory(identity string) string {
	return filepath.Join(s.Root, "identities", Domain, identity)
}

// Files returns the local certificate file paths for identity.
func (s Selector) Files(identity string) Paths {
	dir := s.Directory(identity)
	return Paths{
		Cert: filepath.Join(dir, CertFile),
		Key:  filepath.Join(dir, KeyFile),
		CA:   filepath.Join(dir, CAFile),
	}
}

func (s Selector) hasLocalCertificates(identity string) bool {
	p := s.Files(identity)
	for _, f := range []string{p.Cert, p.Key, p.CA} {
		if info, err := os.Stat(f); err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// Select applies the fixed priority: complete base64 environment credentials,
// then a complete local certificate directory for the identity, then
// interactive login when only an identity is known.
func (s Selector) Select(settings *config.Settings) (Mode, error) {
	if settings.HasBase64Credentials() {
		return EnvironmentCredentials, nil
	}
	identity := settings.Identity()
	if identity != "" && s.hasLocalCertificates(identity) {
		return LocalCertificateDirectory, nil
	}
	if identity != "" {
		return InteractiveLogin, nil
	}
	return 0, fmt.Errorf("%w: no authentication method available; %s", apperr.ErrConfiguration, strings.Join([]string{
		"set " + config.EnvCertB64 + ", " + config.EnvKeyB64 + ", " + config.EnvCAB64 + " and " + config.KeyPasswordVariables,
		"or place " + CertFile + ", " + KeyFile + " and " + CAFile + " under " + s.Directory("<identity>") + " and set " + config.IdentityVariables,
		"or set " + config.IdentityVariables + " for interactive login",
	}, "; "))
}

// Load materializes the credential bundle for a certificate mode.
// A failure here is final; the caller must not fall back to a lower-priority mode.
func (s Selector) Load(mode Mode, settings *config.Settings, opts credentials.Options) (*credentials.Bundle, error) {
	switch mode {
	case EnvironmentCredentials:
		if opts.Dir == "" {
			opts.Dir = s.TmpDir
		}
		return credentials.LoadFromEnvironment(settings, opts)
	case LocalCertificateDirectory:
		password, err := credentials.DecodePassword(settings.KeyPassword())
		if err != nil {
			return nil, err
		}
		p := s.Files(settings.Identity())
		return credentials.LoadFromFiles(p.Cert, p.Key, p.CA, password)
	}
	return nil, fmt.Errorf("%w: mode %s does not use a credential bundle", apperr.ErrConfiguration, mode)
}
