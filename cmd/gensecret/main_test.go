package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_run(t *testing.T) {
	t.Run("default length", func(t *testing.T) {
		var out bytes.Buffer

		require.NoError(t, run(&out, nil))

		secret, err := hex.DecodeString(strings.TrimSpace(out.String()))
		require.NoError(t, err)
		require.Len(t, secret, SecretKeyBytesLen)
	})

	t.Run("custom length", func(t *testing.T) {
		var out bytes.Buffer

		require.NoError(t, run(&out, []string{"-n", "64"}))

		require.Len(t, strings.TrimSpace(out.String()), 128)
	})

	t.Run("too short", func(t *testing.T) {
		require.Error(t, run(&bytes.Buffer{}, []string{"--bytes", "8"}))
	})
}
