package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, zone, cfg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zone.json"), []byte(zone), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644))
}

func TestLoadResolvesOwnZoneAndReaders(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, `{"zone": "front-door"}`, `{
		"front-door": {
			"latch_gpio": "GPIO17",
			"unlock_value": 1,
			"open_delay": 5,
			"sqladdr": "127.0.0.1:3306",
			"sqluser": "accessd",
			"sqlpass": "secret",
			"sqldb": "pidoors",
			"main_reader": {"d0": "GPIO14", "d1": "GPIO15"}
		}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "front-door", cfg.Zone)
	assert.Equal(t, "GPIO17", cfg.LatchGPIO)
	assert.Equal(t, 1, cfg.UnlockValue)
	assert.Equal(t, 5, cfg.OpenDelay)
	require.Contains(t, cfg.Readers, "main_reader")
	assert.Equal(t, "GPIO14", cfg.Readers["main_reader"].D0)
}

func TestLoadFailsOnMissingZoneEntry(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, `{"zone": "back-door"}`, `{"front-door": {"latch_gpio": "GPIO17"}}`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadFailsOnMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, `{"zone": "front-door"}`, `{not valid json`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadFailsOnMissingZoneJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadIgnoresUnrecognizedExtraKeys(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, `{"zone": "front-door"}`, `{
		"front-door": {
			"latch_gpio": "GPIO17",
			"some_future_flag": true,
			"door_sensor_gpio": "GPIO27"
		}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "GPIO27", cfg.DoorSensorGPIO)
	assert.Empty(t, cfg.Readers)
}
