// Package credentials materializes the certificate, private key, CA chain and
// key password used for certificate login.
//
// Credentials come either from base64 environment values, which are decoded
// and written to fresh temporary files owned by the bundle, or from files that
// already exist on disk and are never touched. Cleanup erases only the files
// the bundle created.
package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
	"github.com/jkaninda/radkit-mcp/internal/config"
)

// Bundle is a set of credential file paths plus the decoded key password.
// The password never appears in logs; see LogValue.
type Bundle struct {
	CAPath   string
	CertPath string
	KeyPath  string
	Password string

	created []string
	logger  *slog.Logger
	once    sync.Once
	errs    error
}

// Options tunes LoadFromEnvironment.
type Options struct {
	Dir    string       // Directory for temporary files. Default: os.TempDir().
	Logger *slog.Logger // Receives cleanup warnings. Default: slog.Default().
}

// LoadFromEnvironment decodes the base64 credentials in s and writes the
// certificate, key and CA chain to three new files. Every value is decoded
// before anything is written; if a later write fails, the files already
// written by this call are removed before the error is returned.
func LoadFromEnvironment(s *config.Settings, opts Options) (*Bundle, error) {
	cert, err := decodeRequired(config.EnvCertB64, s.CertB64)
	if err != nil {
		return nil, err
	}
	key, err := decodeRequired(config.EnvKeyB64, s.KeyB64)
	if err != nil {
		return nil, err
	}
	ca, err := decodeRequired(config.EnvCAB64, s.CAB64)
	if err != nil {
		return nil, err
	}
	password, err := DecodePassword(s.KeyPassword())
	if err != nil {
		return nil, err
	}

	b := &Bundle{Password: password, logger: opts.Logger}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	files := []struct {
		suffix string
		data   []byte
		dst    *string
	}{
		{"_cert.pem", cert, &b.CertPath},
		{"_key.pem", key, &b.KeyPath},
		{"_ca.pem", ca, &b.CAPath},
	}
	for _, f := range files {
		path, err := writeTemp(opts.Dir, f.suffix, f.data)
		if err != nil {
			b.rollback()
			return nil, err
		}
		b.created = append(b.created, path)
		*f.dst = path
	}
	return b, nil
}

// LoadFromFiles builds a bundle over existing files. The bundle owns none of
// them, so Cleanup never erases them.
func LoadFromFiles(certPath, keyPath, caPath, password string) (*Bundle, error) {
	for _, p := range []string{certPath, keyPath, caPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", apperr.ErrFileNotFound, p)
			}
			return nil, fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return &Bundle{
		CAPath:   caPath,
		CertPath: certPath,
		KeyPath:  keyPath,
		Password: password,
		logger:   slog.Default(),
	}, nil
}

// DecodePassword decodes the base64 key password. The decoded bytes must be UTF-8.
func DecodePassword(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("%w: %s is required", apperr.ErrConfiguration, config.KeyPasswordVariables)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", apperr.ErrDecoding, config.KeyPasswordVariables, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", apperr.ErrDecoding, config.KeyPasswordVariables)
	}
	return string(raw), nil
}

func decodeRequired(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is required", apperr.ErrConfiguration, name)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrDecoding, name, err)
	}
	return raw, nil
}

func writeTemp(dir, suffix string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "radkit-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("creating credential file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("securing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	return path, nil
}

func (b *Bundle) rollback() {
	for _, p := range b.created {
		_ = os.Remove(p)
	}
	b.created = nil
}

// Created returns the paths this bundle wrote and will erase on Cleanup.
func (b *Bundle) Created() []string {
	out := make([]string, len(b.created))
	copy(out, b.created)
	return out
}

// Cleanup erases every file the bundle created. Missing files are ignored.
// Other failures are logged and do not stop the remaining removals; the
// returned error reports them and is meant for diagnostics only.
// Calls after the first are no-ops.
func (b *Bundle) Cleanup() error {
	b.once.Do(func() {
		var errs []error
		for _, p := range b.created {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				b.logger.Warn("removing credential file",
					slog.String("path", p),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
		}
		b.errs = errors.Join(errs...)
	})
	return b.errs
}

// LogValue implements slog.LogValuer without exposing the password.
func (b *Bundle) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cert", b.CertPath),
		slog.String("key", b.KeyPath),
		slog.String("ca", b.CAPath),
		slog.Int("owned_files", len(b.created)),
	)
}
