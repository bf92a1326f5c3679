package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/unblockd/unblockd/internal/model"
)

const (
	previewLimit       = 200
	defaultDialTimeout = 10 * time.Second
)

// Preview returns s verbatim when it fits previewLimit bytes, otherwise
// the first previewLimit bytes with a literal "..." suffix.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}

// DialConfig bounds the connection retry loop and carries the host key
// pinning state.
type DialConfig struct {
	Attempts int
	Delay    time.Duration
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	// HostKey is the pinned sshd key in authorized_keys format. When
	// set, a presented key that differs fails the connection.
	HostKey string
	// PinHostKey records the presented key on first use, called only
	// while HostKey is empty.
	PinHostKey func(ctx context.Context, hostKey string) error
}

// Session wraps one authenticated connection to one host and executes
// remote commands sequentially. Deny-list state must be read then acted
// upon without interleaving, so there is no parallel command issuance.
type Session struct {
	client *ssh.Client
	host   model.Host
}

// hostKeyCallback verifies the presented sshd key against the pin, or
// records it on first use. A pinned key that no longer matches fails
// the connection outright.
func hostKeyCallback(ctx context.Context, cfg DialConfig) ssh.HostKeyCallback {
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		if cfg.HostKey != "" {
			pinned, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
			if err != nil {
				return fmt.Errorf("parsing pinned host key for %s: %w", hostname, err)
			}
			if !bytes.Equal(pinned.Marshal(), key.Marshal()) {
				return fmt.Errorf("host key mismatch for %s: presented %s, pinned %s",
					hostname, ssh.FingerprintSHA256(key), ssh.FingerprintSHA256(pinned))
			}
			return nil
		}
		// trust on first use
		if cfg.PinHostKey != nil {
			observed := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
			if err := cfg.PinHostKey(ctx, observed); err != nil {
				return fmt.Errorf("pinning host key for %s: %w", hostname, err)
			}
			slog.InfoContext(ctx, "host key pinned",
				slog.String("host", hostname),
				slog.String("fingerprint", ssh.FingerprintSHA256(key)))
		}
		return nil
	}
}

// Dial establishes the connection, retrying connection level failures
// up to cfg.Attempts with cfg.Delay between attempts. Exhausting the
// budget returns a ConnectionError carrying the attempt count.
func Dial(ctx context.Context, host model.Host, cred model.Credential, cfg DialConfig) (*Session, error) {
	signer, err := Signer(cred)
	if err != nil {
		return nil, &ConnectionError{Host: host.FQDN, Attempts: 0, Err: err}
	}
	clientCfg := &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback(ctx, cfg),
		Timeout:         defaultDialTimeout,
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionError{Host: host.FQDN, Attempts: attempt - 1, Err: err}
		}
		client, err := ssh.Dial("tcp", host.Endpoint(), clientCfg)
		if err == nil {
			return &Session{client: client, host: host}, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		slog.WarnContext(ctx, "ssh connection failed, retrying",
			slog.String("host", host.FQDN),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{Host: host.FQDN, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(cfg.Delay):
		}
	}
	return nil, &ConnectionError{Host: host.FQDN, Attempts: attempts, Err: lastErr}
}

// Execute runs one command and returns its combined output. Empty output
// is a valid result meaning "no match found". A non-zero remote exit
// yields a CommandError with whatever output was produced.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	slog.InfoContext(ctx, "SSH Command: Starting execution", slog.String("command", command))

	sess, err := s.client.NewSession()
	if err != nil {
		return "", &CommandError{Command: command, Err: fmt.Errorf("opening session: %w", err)}
	}
	defer func() {
		_ = sess.Close()
	}()

	out, err := sess.CombinedOutput(command)
	output := string(out)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return "", &CommandError{
				Command:     command,
				Output:      output,
				ErrorOutput: exitErr.Msg(),
				Err:         fmt.Errorf("remote exit status %d", exitErr.ExitStatus()),
			}
		}
		return "", &CommandError{Command: command, Output: output, Err: err}
	}

	slog.InfoContext(ctx, "SSH Command: Execution completed successfully",
		slog.Int("output_length", len(output)),
		slog.String("output_preview", Preview(output)),
	)
	return output, nil
}

func (s *Session) Close() error {
	return s.client.Close()
}
