// Package sshx owns the SSH primitives of a check: the ephemeral key
// pair lifecycle and the command execution session.
package sshx

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/unblockd/unblockd/internal/model"
)

// AuthorizedKeysInstaller installs and removes a public key on the
// remote host through an existing management channel (panel API or
// equivalent). It is a collaborator, not part of this package's scope.
type AuthorizedKeysInstaller interface {
	Install(ctx context.Context, host model.Host, publicKey string) error
	Remove(ctx context.Context, host model.Host, publicKey string) error
}

// KeyManager generates, installs and revokes a short-lived ed25519 key
// pair per check. The private half is written to a file under dir with
// restrictive permissions; dir must live outside any web root.
type KeyManager struct {
	dir       string
	installer AuthorizedKeysInstaller
}

func NewKeyManager(dir string, installer AuthorizedKeysInstaller) (*KeyManager, error) {
	if installer == nil {
		return nil, errors.New("authorized keys installer is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory %s: %w", dir, err)
	}
	return &KeyManager{dir: dir, installer: installer}, nil
}

// Provision generates a key pair, stores the private half locally and
// installs the public half on the host. Atomic: if the install fails no
// dangling key is acceptable, so the partially written private key is
// deleted and a KeyProvisionError returned.
func (m *KeyManager) Provision(ctx context.Context, host model.Host) (model.Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.Credential{}, &KeyProvisionError{Host: host.FQDN, Err: fmt.Errorf("generating key pair: %w", err)}
	}

	comment := "unblockd-" + uuid.NewString()
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return model.Credential{}, &KeyProvisionError{Host: host.FQDN, Err: err}
	}
	publicKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " " + comment

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return model.Credential{}, &KeyProvisionError{Host: host.FQDN, Err: err}
	}
	path := filepath.Join(m.dir, comment+".key")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return model.Credential{}, &KeyProvisionError{Host: host.FQDN, Err: fmt.Errorf("writing private key: %w", err)}
	}

	if err := m.installer.Install(ctx, host, publicKey); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			slog.ErrorContext(ctx, "cannot remove private key after failed install",
				slog.String("path", path), slog.String("error", rmErr.Error()))
		}
		return model.Credential{}, &KeyProvisionError{Host: host.FQDN, Err: fmt.Errorf("installing public key: %w", err)}
	}

	return model.Credential{
		PrivateKeyPath: path,
		PublicKey:      publicKey,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Revoke removes the public key from the host and deletes the local
// private key. Best effort and idempotent: a missing local file or an
// already removed remote key is not an error, anything else is logged
// and returned joined, but callers treat the outcome as non-fatal.
func (m *KeyManager) Revoke(ctx context.Context, host model.Host, cred model.Credential) error {
	var errs []error
	if cred.PublicKey != "" {
		if err := m.installer.Remove(ctx, host, cred.PublicKey); err != nil {
			slog.ErrorContext(ctx, "cannot remove authorized key",
				slog.String("host", host.FQDN), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("removing authorized key: %w", err))
		}
	}
	if cred.PrivateKeyPath != "" {
		if err := os.Remove(cred.PrivateKeyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.ErrorContext(ctx, "cannot delete private key",
				slog.String("path", cred.PrivateKeyPath), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("deleting private key: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SweepStale deletes local private key files older than maxAge. This is
// a backstop against leaked state, not a substitute for Revoke.
func (m *KeyManager) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("reading key directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	var removed int
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "swept stale private key", slog.String("path", path))
		removed++
	}
	return removed, errors.Join(errs...)
}

// Signer loads the credential's private key for session authentication.
func Signer(cred model.Credential) (ssh.Signer, error) {
	b, err := os.ReadFile(cred.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return signer, nil
}
