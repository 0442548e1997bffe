package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string            `json:"name"`
	Delay   int               `json:"delay"`
	Cookies map[string]string `json:"cookies"`
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestLocalName(t *testing.T) {
	require.Equal(t, filepath.Join("conf", "hashdive.local.json5"), LocalName("conf/hashdive.json5"))
	require.Equal(t, "telemetry.local.json5", LocalName("telemetry.json5"))
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json5")
	writeFile(t, path, `{
		// comments are allowed
		name: "base",
		delay: 1,
		cookies: { _streamlit_xsrf: "base-xsrf" },
	}`)
	writeFile(t, filepath.Join(dir, "app.local.json5"), `{ delay: 3, cookies: { ajs_anonymous_id: "local-id" } }`)

	config, err := ReadConfig[testConfig](path)
	require.NoError(t, err)
	require.Equal(t, "base", config.Name)
	require.Equal(t, 3, config.Delay)
	require.Equal(t, map[string]string{
		"_streamlit_xsrf":  "base-xsrf",
		"ajs_anonymous_id": "local-id",
	}, config.Cookies)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "missing.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadWithDefaults(t *testing.T) {
	defaults := testConfig{Name: "default", Delay: 1}

	config, err := ReadWithDefaults(filepath.Join(t.TempDir(), "missing.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, config)

	dir := t.TempDir()
	path := filepath.Join(dir, "app.json5")
	writeFile(t, path, `{ delay: 5 }`)

	config, err = ReadWithDefaults(path, defaults)
	require.NoError(t, err)
	require.Equal(t, "default", config.Name)
	require.Equal(t, 5, config.Delay)
}

func TestReadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json5")
	writeFile(t, path, `{ name: `)

	_, err := ReadConfig[testConfig](path)
	require.Error(t, err)
}
