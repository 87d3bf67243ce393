package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_PrintsRedactedSettings(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  type: mysql
  mysql:
    host: db.internal
    port: 3306
    username: sv
    password: hunter2
    database: safety
notification:
  shoutrrr:
    urls: ["telegram://secret@telegram?chats=1"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	configFile := path
	cmd := Command(&configFile)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "# loaded from "+path)
	assert.Contains(t, out.String(), "db.internal")
	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "secret@telegram")
}

func TestCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webserver:\n  port: 0\n"), 0o600))

	configFile := path
	cmd := Command(&configFile)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs(nil)
	require.Error(t, cmd.Execute())
}
