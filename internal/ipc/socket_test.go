package ipc

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// leaveStaleSocket binds path and closes it without unlinking, as a crashed owner would.
func leaveStaleSocket(t *testing.T, path string) {
	t.Helper()
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	ul, ok := l.(*net.UnixListener)
	require.True(t, ok)
	ul.SetUnlinkOnClose(false)
	require.NoError(t, ul.Close())
}

func TestAcquireReplacesStaleSocket(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "recital.sock")
	leaveStaleSocket(t, socketPath)

	var logs bytes.Buffer
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{
		ProbeTimeout: 50 * time.Millisecond,
		Retries:      2,
		Logger:       slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	defer listener.Close()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSocket)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	require.Contains(t, logs.String(), "removing stale session socket")
}

func TestAcquireRefusesToUnlinkNonSocket(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "recital.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("notes"), 0o600))

	_, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond, Retries: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "is not a socket")

	content, readErr := os.ReadFile(socketPath)
	require.NoError(t, readErr)
	require.Equal(t, "notes", string(content))
}

func TestAcquireReturnsAlreadyRunningWhenSocketResponsive(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "recital.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true, State: "recording"}
		}))
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 80 * time.Millisecond, Retries: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-serverDone)
}

func TestAcquireDoesNotUnlinkWhenProbeInconclusive(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "recital.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 30 * time.Millisecond})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyRunning)
	require.Contains(t, err.Error(), "probe existing socket")

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestRuntimeSocketPath(t *testing.T) {
	runtimeDir := t.TempDir()

	t.Run("xdg runtime dir", func(t *testing.T) {
		t.Setenv(SocketEnv, "")
		t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
		path, err := RuntimeSocketPath()
		require.NoError(t, err)
		require.Equal(t, filepath.Join(runtimeDir, "recital.sock"), path)
	})

	t.Run("override wins", func(t *testing.T) {
		t.Setenv(SocketEnv, " /tmp/recital-test/../custom.sock ")
		t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
		path, err := RuntimeSocketPath()
		require.NoError(t, err)
		require.Equal(t, "/tmp/custom.sock", path)
	})

	t.Run("relative override rejected", func(t *testing.T) {
		t.Setenv(SocketEnv, "recital.sock")
		_, err := RuntimeSocketPath()
		require.ErrorContains(t, err, "must be an absolute path")
	})

	t.Run("nothing set", func(t *testing.T) {
		t.Setenv(SocketEnv, "")
		t.Setenv("XDG_RUNTIME_DIR", "")
		_, err := RuntimeSocketPath()
		require.ErrorContains(t, err, "XDG_RUNTIME_DIR is not set")
	})
}
