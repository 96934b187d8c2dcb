// File: internal/credentials/credentials_test.go
package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GCBOT_USERNAME", "alice")
	t.Setenv("GCBOT_PASSWORD", "s3cret")

	creds, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)
	assert.True(t, creds.Complete())
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("GCBOT_USERNAME", "env-user")
	t.Setenv("GCBOT_PASSWORD", "env-pass")

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"bob","password":"hunter2"}`), 0o600))

	creds, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
}

func TestLoadPartialFileKeepsEnv(t *testing.T) {
	t.Setenv("GCBOT_USERNAME", "env-user")
	t.Setenv("GCBOT_PASSWORD", "env-pass")

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"bob"}`), 0o600))

	creds, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", creds.Username)
	assert.Equal(t, "env-pass", creds.Password, "missing file fields fall back to the environment")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err, "a present but unreadable file is an error, not a silent fallback")
}

func TestComplete(t *testing.T) {
	assert.False(t, Credentials{}.Complete())
	assert.False(t, Credentials{Username: "alice"}.Complete())
	assert.False(t, Credentials{Password: "x"}.Complete())
	assert.True(t, Credentials{Username: "alice", Password: "x"}.Complete())
}
