package sshx_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	glssh "github.com/gliderlabs/ssh"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/unblockd/unblockd/internal/model"
	"github.com/unblockd/unblockd/internal/sshx"
)

func TestPreview(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		then     string
	}{
		{"empty", "", ""},
		{"short", "ham", "ham"},
		{"exactly 200", strings.Repeat("a", 200), strings.Repeat("a", 200)},
		{"201 truncated to 203", strings.Repeat("a", 201), strings.Repeat("a", 200) + "..."},
		{"long truncated to 203", strings.Repeat("b", 4096), strings.Repeat("b", 200) + "..."},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			got := sshx.Preview(tc.given)
			require.Equal(t, tc.then, got)
			if len(tc.given) > 200 {
				require.Len(t, got, 203)
			}
		})
	}
}

// startTestSSHServer runs an in-process sshd answering a fixed command
// table. Unknown commands exit non-zero.
func startTestSSHServer(t *testing.T, commands map[string]string) model.Host {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &glssh.Server{
		Handler: func(s glssh.Session) {
			out, ok := commands[s.RawCommand()]
			if !ok {
				_, _ = io.WriteString(s.Stderr(), "command not found\n")
				_ = s.Exit(127)
				return
			}
			_, _ = io.WriteString(s, out)
			_ = s.Exit(0)
		},
		PublicKeyHandler: func(ctx glssh.Context, key glssh.PublicKey) bool {
			return true
		},
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return model.Host{
		ID:    1,
		FQDN:  "test.example.com",
		Addr:  "127.0.0.1",
		Port:  addr.Port,
		User:  "root",
		Panel: model.PanelCPanel,
	}
}

func provision(t *testing.T, host model.Host) (*sshx.KeyManager, model.Credential) {
	t.Helper()
	km, err := sshx.NewKeyManager(t.TempDir(), &fakeInstaller{})
	require.NoError(t, err)
	cred, err := km.Provision(t.Context(), host)
	require.NoError(t, err)
	return km, cred
}

func TestSessionExecute(t *testing.T) {
	host := startTestSSHServer(t, map[string]string{
		"grep 192.0.2.4 /etc/csf/csf.deny": "csf.deny: 192.0.2.4 # lfd: (PERMBLOCK) Thu Dec 05 10:33:35 2024\n",
		"true":                             "",
	})
	_, cred := provision(t, host)

	sess, err := sshx.Dial(t.Context(), host, cred, sshx.DialConfig{Attempts: 1})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sess.Close())
	}()

	out, err := sess.Execute(t.Context(), "grep 192.0.2.4 /etc/csf/csf.deny")
	require.NoError(t, err)
	require.Contains(t, out, "192.0.2.4")

	// empty output is a valid non-error result
	out, err = sess.Execute(t.Context(), "true")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSessionExecuteCommandError(t *testing.T) {
	host := startTestSSHServer(t, map[string]string{})
	_, cred := provision(t, host)

	sess, err := sshx.Dial(t.Context(), host, cred, sshx.DialConfig{Attempts: 1})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, sess.Close())
	}()

	_, err = sess.Execute(t.Context(), "definitely-not-a-command")
	require.Error(t, err)
	var cmdErr *sshx.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, "definitely-not-a-command", cmdErr.Command)
}

func TestDialRetryBudget(t *testing.T) {
	t.Parallel()
	// reserve a port and close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	host := model.Host{FQDN: "down.example.com", Addr: "127.0.0.1", Port: port, User: "root"}
	km, err := sshx.NewKeyManager(t.TempDir(), &fakeInstaller{})
	require.NoError(t, err)
	cred, err := km.Provision(t.Context(), host)
	require.NoError(t, err)

	var retries int
	_, err = sshx.Dial(t.Context(), host, cred, sshx.DialConfig{
		Attempts: 3,
		Delay:    time.Millisecond,
		OnRetry:  func(int, error) { retries++ },
	})
	require.Error(t, err)
	var connErr *sshx.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, 3, connErr.Attempts)
	// attempts 1 and 2 are retried, the third is terminal
	require.Equal(t, 2, retries)
}

func TestDialHostKeyPinning(t *testing.T) {
	t.Parallel()

	newSigner := func() gossh.Signer {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		signer, err := gossh.NewSignerFromKey(priv)
		require.NoError(t, err)
		return signer
	}
	authorizedLine := func(s gossh.Signer) string {
		return strings.TrimSpace(string(gossh.MarshalAuthorizedKey(s.PublicKey())))
	}

	serverKey := newSigner()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &glssh.Server{
		Handler: func(s glssh.Session) {
			_ = s.Exit(0)
		},
		PublicKeyHandler: func(ctx glssh.Context, key glssh.PublicKey) bool {
			return true
		},
	}
	srv.AddHostKey(serverKey)
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	host := model.Host{
		ID:   7,
		FQDN: "pin.example.com",
		Addr: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		User: "root",
	}
	km, err := sshx.NewKeyManager(t.TempDir(), &fakeInstaller{})
	require.NoError(t, err)
	cred, err := km.Provision(t.Context(), host)
	require.NoError(t, err)

	t.Run("first connect records the key", func(t *testing.T) {
		var recorded string
		sess, err := sshx.Dial(t.Context(), host, cred, sshx.DialConfig{
			Attempts: 1,
			PinHostKey: func(_ context.Context, hostKey string) error {
				recorded = hostKey
				return nil
			},
		})
		require.NoError(t, err)
		require.NoError(t, sess.Close())
		require.Equal(t, authorizedLine(serverKey), recorded)
	})

	t.Run("matching pin is accepted", func(t *testing.T) {
		sess, err := sshx.Dial(t.Context(), host, cred, sshx.DialConfig{
			Attempts: 1,
			HostKey:  authorizedLine(serverKey),
		})
		require.NoError(t, err)
		require.NoError(t, sess.Close())
	})

	t.Run("changed key is refused", func(t *testing.T) {
		_, err := sshx.Dial(t.Context(), host, cred, sshx.DialConfig{
			Attempts: 1,
			HostKey:  authorizedLine(newSigner()),
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "host key mismatch")
	})
}
