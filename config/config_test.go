package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guseggert/maestro/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
browser:
  executable: /opt/chrome/chrome-headless-shell
  args: ["--no-sandbox"]
  launch_timeout: 2s
pdf:
  landscape: true
  settle: 500ms
log:
  level: debug
`)

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "/opt/chrome/chrome-headless-shell", cfg.Browser.Executable)
	assert.Equal(t, []string{"--no-sandbox"}, cfg.Browser.Args)
	assert.Equal(t, 2*time.Second, cfg.Browser.LaunchTimeout)
	assert.True(t, cfg.PDF.Landscape)
	assert.Equal(t, 500*time.Millisecond, cfg.PDF.Settle)
	assert.Equal(t, "debug", cfg.Log.Level)

	// defaults survive for keys the file leaves out
	assert.Equal(t, launcher.DefaultGracePeriod, cfg.Browser.GracePeriod)
	assert.Equal(t, 1.0, cfg.PDF.Scale)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		errMsg   string
	}{
		{name: "bad yaml", contents: "browser: [", errMsg: "parsing"},
		{name: "bad duration", contents: "browser:\n  launch_timeout: soon\n", errMsg: "parsing"},
		{name: "negative timeout", contents: "browser:\n  launch_timeout: -1s\n", errMsg: "launch_timeout"},
		{name: "scale out of range", contents: "pdf:\n  scale: 3\n", errMsg: "pdf.scale"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeFile(t, c.contents), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.errMsg)
		})
	}
}

func TestLauncherOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.LauncherOptions(), 2)

	cfg.Browser.Executable = "/bin/chrome"
	cfg.Browser.Args = []string{"--a"}
	cfg.Browser.Env = []string{"A=1"}
	cfg.Browser.UserDataDir = "/tmp/profile"
	assert.Len(t, cfg.LauncherOptions(), 6)
}
