package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:1337", cfg.Backend.URL)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "", cfg.Store.Dir)
	assert.Equal(t, "v4", cfg.Assets.Version)
	assert.Equal(t, 128, cfg.Assets.LRUSize)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"backend": {"url": "http://api.test", "timeout": 2500},
		"assets": {"version": "v5", "lruSize": 16},
		"connectivity": {"probeInterval": 0},
		"log": {"level": "debug"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "http://api.test", cfg.Backend.URL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Backend.Timeout)
	assert.Equal(t, "v5", cfg.Assets.Version)
	assert.Equal(t, 16, cfg.Assets.LRUSize)
	assert.Equal(t, "http://localhost:8000", cfg.Assets.Origin)
	assert.Equal(t, time.Duration(0), cfg.Connectivity.ProbeInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestFromJSONEmpty(t *testing.T) {
	cfg, err := FromJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1337", cfg.Backend.URL)
}

func TestFromJSONInvalid(t *testing.T) {
	_, err := FromJSON([]byte(`{"backend": {"url": ""}}`))
	require.EqualError(t, err, "backend url is required")

	_, err = FromJSON([]byte(`{"log": {"level": "loud"}}`))
	require.ErrorContains(t, err, "invalid log level")

	_, err = FromJSON([]byte(`{"assets": {"lruSize": -1}}`))
	require.EqualError(t, err, "invalid assets lru-size -1")

	_, err = FromJSON([]byte(`not json`))
	require.ErrorContains(t, err, "failed to decode options")
}

func TestParseFlagsAndEnv(t *testing.T) {
	t.Setenv("STORE_DIR", "/var/lib/restokitt")

	var cfg Config
	var parser = flags.NewParser(&cfg, flags.None)
	_, err := parser.ParseArgs([]string{"--backend.url=http://api.test", "--log.level=info"})
	require.NoError(t, err)

	assert.Equal(t, "http://api.test", cfg.Backend.URL)
	assert.Equal(t, "/var/lib/restokitt", cfg.Store.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestParseRejectsUnknownChoice(t *testing.T) {
	var cfg Config
	_, err := flags.NewParser(&cfg, flags.None).ParseArgs([]string{"--log.format=xml"})
	require.Error(t, err)
}

func TestIniFile(t *testing.T) {
	var cfg Config
	var parser = flags.NewParser(&cfg, flags.None)
	var path = filepath.Join(t.TempDir(), "restokitt.ini")

	require.NoError(t, os.WriteFile(path, []byte(
		"[Backend]\nurl = http://api.test\ntimeout = 2s\n\n"+
			"[Assets]\nversion = v9\nlru-size = 16\n\n"+
			"[Connectivity]\nprobe-interval = 0s\n"), 0o644))
	require.NoError(t, flags.NewIniParser(parser).ParseFile(path))

	assert.Equal(t, "http://api.test", cfg.Backend.URL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "v9", cfg.Assets.Version)
	assert.Equal(t, 16, cfg.Assets.LRUSize)
	assert.Zero(t, cfg.Connectivity.ProbeInterval)
}

func TestIniFileRejectsUnknownKey(t *testing.T) {
	var cfg Config
	var parser = flags.NewParser(&cfg, flags.None)
	var path = filepath.Join(t.TempDir(), "restokitt.ini")

	require.NoError(t, os.WriteFile(path, []byte("[Assets]\ncolour = blue\n"), 0o644))
	var iniErr *flags.IniError
	require.ErrorAs(t, flags.NewIniParser(parser).ParseFile(path), &iniErr)
	assert.Equal(t, uint(2), iniErr.LineNumber)
}

func TestIniSearchPath(t *testing.T) {
	t.Setenv("HOME", "/home/kitt")
	t.Setenv("UserProfile", "")

	assert.Equal(t, []string{
		"restokitt.ini",
		filepath.Join("/home/kitt", ".config", "restokitt", "restokitt.ini"),
	}, iniSearchPath("restokitt.ini"))
}

func TestInitLog(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	InitLog(LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}
