package direct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/jkaninda/radkit-mcp/internal/radkit"
)

// Exec runs each command in its own SSH session on one connection. A dial or
// authentication failure is reported as a FAILURE response, not an error, so
// the caller sees the device status message. Each session starts with a fresh
// terminal, so ResetBefore and ResetAfter need no extra work here.
func (d *device) Exec(ctx context.Context, commands []string, opts radkit.ExecOptions) (*radkit.ExecResponse, error) {
	if d.spec.SSH == nil {
		return nil, fmt.Errorf("device %s has no CLI access configured", d.spec.Name)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cfg, err := d.sshConfig(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := d.dial(ctx, cfg)
	if err != nil {
		return &radkit.ExecResponse{
			Status:        radkit.StatusFailure,
			StatusMessage: err.Error(),
		}, nil
	}
	defer conn.Close()

	// Closing the connection unblocks any running session when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp := &radkit.ExecResponse{Status: radkit.StatusSuccess}
	for _, cmd := range commands {
		line := cmd
		if opts.Sudo {
			line = "sudo -n " + cmd
		}
		out, err := runCommand(conn, line)
		result := radkit.CommandResult{Command: cmd, Output: out, Status: radkit.StatusSuccess}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var exitErr *ssh.ExitError
			if !errors.As(err, &exitErr) {
				result.Status = radkit.StatusFailure
			}
			d.client.logger.Debug("command finished with error",
				slog.String("device", d.spec.Name),
				slog.String("error", err.Error()),
			)
		}
		resp.Commands = append(resp.Commands, result)
	}
	return resp, nil
}

func runCommand(conn *ssh.Client, cmd string) (string, error) {
	sess, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()
	out, err := sess.CombinedOutput(cmd)
	return string(out), err
}

func (d *device) sshConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	spec := d.spec.SSH
	var methods []ssh.AuthMethod
	if spec.PrivateKeyRef != "" {
		pemKey, err := d.resolve(ctx, spec.PrivateKeyRef)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey([]byte(pemKey))
		if err != nil {
			return nil, fmt.Errorf("device %s: parsing private key: %w", d.spec.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if spec.PasswordRef != "" {
		pw, err := d.resolve(ctx, spec.PasswordRef)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.Password(pw))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("device %s: ssh needs password_ref or private_key_ref", d.spec.Name)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if spec.HostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(spec.HostKey))
		if err != nil {
			return nil, fmt.Errorf("device %s: parsing host key: %w", d.spec.Name, err)
		}
		hostKey = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            spec.Username,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         d.client.opts.DialTimeout,
	}, nil
}

func (d *device) dial(ctx context.Context, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	port := d.spec.SSH.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(d.spec.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: cfg.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
