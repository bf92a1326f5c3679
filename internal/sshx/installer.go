package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/unblockd/unblockd/internal/model"
)

// HookInstaller delegates authorized_keys management to operator
// supplied shell hooks, typically thin wrappers around the hosting
// panel's API. The hook receives the target host and the key in
// UNBLOCKD_* environment variables and must exit zero on success.
type HookInstaller struct {
	installHook string
	removeHook  string
}

func NewHookInstaller(installHook, removeHook string) *HookInstaller {
	return &HookInstaller{installHook: installHook, removeHook: removeHook}
}

func (h *HookInstaller) Install(ctx context.Context, host model.Host, publicKey string) error {
	if h.installHook == "" {
		return errors.New("keys.install_hook is not configured")
	}
	return runHook(ctx, h.installHook, host, publicKey)
}

func (h *HookInstaller) Remove(ctx context.Context, host model.Host, publicKey string) error {
	if h.removeHook == "" {
		return errors.New("keys.remove_hook is not configured")
	}
	return runHook(ctx, h.removeHook, host, publicKey)
}

func runHook(ctx context.Context, hook string, host model.Host, publicKey string) error {
	port := host.Port
	if port == 0 {
		port = 22
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", hook)
	cmd.Env = append(os.Environ(),
		"UNBLOCKD_HOST="+host.FQDN,
		"UNBLOCKD_ADDR="+host.Addr,
		"UNBLOCKD_PORT="+strconv.Itoa(port),
		"UNBLOCKD_USER="+host.User,
		"UNBLOCKD_KEY="+publicKey,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook failed: %w: %s", err, stderr.String())
	}
	return nil
}
