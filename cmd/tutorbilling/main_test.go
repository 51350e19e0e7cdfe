package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tutorbilling.yaml")
	content := `
database:
  dsn: "` + filepath.Join(dir, "billing.db") + `"
logging:
  level: warn
billing:
  provider: none
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tutorbilling dev")
}

func TestMigrateThenStatus(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3")

	out, err = execute(t, "status", "tutor", "Jane@Example.com", "--config", path)
	require.NoError(t, err)

	var got struct {
		Class  string `json:"class"`
		Email  string `json:"email"`
		Status struct {
			HasPremium bool   `json:"has_premium"`
			Source     string `json:"source"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "tutor", got.Class)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.False(t, got.Status.HasPremium)
	assert.Equal(t, "none", got.Status.Source)
}

func TestStatus_UnknownClass(t *testing.T) {
	_, err := execute(t, "status", "admin", "a@b.com", "--config", writeConfig(t))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "--check-database", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Database writable")
	assert.Contains(t, out, "Configuration is valid.")
	assert.Contains(t, out, "Admin API disabled")
}

func TestReplay_RequiresProvider(t *testing.T) {
	_, err := execute(t, "replay", "cs_missing", "--config", writeConfig(t))
	assert.ErrorContains(t, err, "replay cs_missing")
}
