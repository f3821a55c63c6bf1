package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/identity/internal/testutil"
)

func noenv(string) string { return "" }

func Test_run(t *testing.T) {
	getwd := func() (string, error) { return t.TempDir(), nil }

	listenAddr := func(t *testing.T) string {
		port, err := testutil.RandomPort()
		require.NoError(t, err, "failed to get random port to start server")
		return fmt.Sprintf("localhost:%d", port)
	}

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
			"--secret-key", "secret",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("stop with error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without secret key. Must fail
		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
		})

		require.Error(t, err, "on incorrect stop should return error")
	})

	t.Run("invalid log level", func(t *testing.T) {
		err := run(t.Context(), noenv, getwd, []string{"--secret-key", "secret", "--log-level", "loud"})

		require.Error(t, err)
	})

	t.Run("serve requests in memory", func(t *testing.T) {
		addr := listenAddr(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- run(ctx, noenv, getwd, []string{"--address", addr, "--secret-key", "secret", "--log-level", "error"})
		}()

		var resp *http.Response
		require.Eventually(t, func() bool {
			var err error
			resp, err = http.Get("http://" + addr + "/health")
			return err == nil
		}, 2*time.Second, 20*time.Millisecond, "server should start")
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err := http.Post("http://"+addr+"/account", "application/json",
			strings.NewReader(`{"email": "nk@example.com", "password": "password"}`))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, err = http.Get("http://" + addr + "/metrics")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Contains(t, string(body), "identity_revoked_tokens")
		require.Contains(t, string(body), "identity_events_pending")

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("serve with postgres", func(t *testing.T) {
		pg := testutil.StartPostgresContainer(t)
		t.Cleanup(pg.Terminate)

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr(t),
			"--database", pg.DSN,
			"--secret-key", "secret",
		})

		require.NoError(t, err)
	})
}
