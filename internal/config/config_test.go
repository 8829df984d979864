package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray certctl.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultHostname, cfg.Hostname)
	assert.Equal(t, DefaultLogDir, cfg.LogDir)
	assert.False(t, cfg.NoColor)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Minute, cfg.MaxReconnectElapsed)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.AbortTimeout)
	assert.Empty(t, cfg.FileUsed)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "certctl.yaml")
	content := "hostname: harness.local:8000\nno_color: true\nmax_reconnects: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "harness.local:8000", cfg.Hostname)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, 9, cfg.MaxReconnects)
	assert.NotEmpty(t, cfg.FileUsed)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "certctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: from-file\n"), 0o644))
	t.Setenv("CERTCTL_HOSTNAME", "from-env")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Hostname)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CERTCTL_HOSTNAME", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("hostname", DefaultHostname, "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--hostname", "from-flag", "--verbose"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Hostname)
	assert.True(t, cfg.Verbose)
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CERTCTL_HOSTNAME", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("hostname", DefaultHostname, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Hostname, "a flag left at its default must not mask the env var")
}

func TestLoadRejectsInvalidHostname(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CERTCTL_HOSTNAME", "bad host!")

	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestValidateHostname(t *testing.T) {
	valid := []string{
		"localhost",
		"localhost:8000",
		"192.168.1.10",
		"192.168.1.10:8080",
		"harness.example.com",
		"harness",
	}
	for _, h := range valid {
		assert.NoError(t, ValidateHostname(h), h)
	}

	invalid := []string{
		"",
		"   ",
		"300.1.1.1",
		"bad host",
		"host:port",
		"-leading.example.com",
	}
	for _, h := range invalid {
		assert.Error(t, ValidateHostname(h), h)
	}
}
