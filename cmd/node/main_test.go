package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/rescuechain/config"
	"github.com/tolelom/rescuechain/wallet"
)

// unsetPassword clears the keystore password for the test so that only the
// env file can provide it.
func unsetPassword(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvPassword, "")
	require.NoError(t, os.Unsetenv(config.EnvPassword))
}

// TestKeyCommandsReadEnvFile verifies that genkey and sign-score take the
// keystore password from the env file.
func TestKeyCommandsReadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	keyPath := filepath.Join(dir, "signer.key")
	require.NoError(t, os.WriteFile(envPath, []byte(config.EnvPassword+"=hunter2\n"), 0600))
	global := []string{"node",
		"--envfile", envPath,
		"--config", filepath.Join(dir, "missing.json"),
		"--key", keyPath,
	}

	unsetPassword(t)
	require.NoError(t, app.Run(append(global, "genkey")))

	_, err := wallet.LoadKey(keyPath, "hunter2")
	require.NoError(t, err)
	_, err = wallet.LoadKey(keyPath, "")
	assert.Error(t, err)

	unsetPassword(t)
	player, err := wallet.Generate()
	require.NoError(t, err)
	err = app.Run(append(global, "sign-score",
		"--player", player.Address().Hex(),
		"--level", "1", "--animal", "0", "--score", "10", "--nonce", "0",
	))
	assert.NoError(t, err)
}
