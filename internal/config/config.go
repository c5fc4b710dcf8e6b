// Package config loads zone.json and config.json into a typed
// ZoneConfig. formats.json is not read here; the Supervisor loads it
// through wiegand's FormatRegistry.LoadCustomFormats.
// A malformed or missing startup config is fatal; a reload failure
// is not (spec.md §4.10, REDESIGN R1) — the caller decides which path
// it is on by calling Load versus the caller's own reload wrapper.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReaderDef is one `{d0, d1}` reader definition under an arbitrary
// top-level key in a zone's config.json entry.
type ReaderDef struct {
	D0 string `json:"d0"`
	D1 string `json:"d1"`
}

// ZoneConfig is the typed view over one zone's config.json entry.
type ZoneConfig struct {
	LatchGPIO      string `json:"latch_gpio"`
	UnlockValue    int    `json:"unlock_value"`
	OpenDelay      int    `json:"open_delay"`
	DoorSensorGPIO string `json:"door_sensor_gpio,omitempty"`
	RexGPIO        string `json:"rex_gpio,omitempty"`

	SQLAddr string `json:"sqladdr"`
	SQLUser string `json:"sqluser"`
	SQLPass string `json:"sqlpass"`
	SQLDB   string `json:"sqldb"`

	MetricsAddr string `json:"metrics_addr,omitempty"`
	LogLevel    string `json:"log_level,omitempty"`

	Readers map[string]ReaderDef `json:"-"`
}

// rawZoneConfig captures every key, including the free-form reader
// definitions, before ZoneConfig's fixed fields are peeled off.
type rawZoneConfig map[string]json.RawMessage

var fixedKeys = map[string]bool{
	"latch_gpio": true, "unlock_value": true, "open_delay": true,
	"door_sensor_gpio": true, "rex_gpio": true,
	"sqladdr": true, "sqluser": true, "sqlpass": true, "sqldb": true,
	"metrics_addr": true, "log_level": true,
}

// zoneFile is zone.json's top-level shape: { "zone": "<name>" }.
type zoneFile struct {
	Zone string `json:"zone"`
}

// Config is the fully resolved startup configuration: the local
// zone's name plus its own ZoneConfig entry.
type Config struct {
	Zone string
	ZoneConfig
}

// Load reads zone.json and config.json from dir and resolves the
// local zone's entry. Any parse error or a missing zone entry is
// returned — the caller treats a Load failure at startup as fatal and
// a Load failure during reload as a logged no-op (spec.md §4.10).
func Load(dir string) (Config, error) {
	zf, err := loadZoneFile(dir)
	if err != nil {
		return Config{}, err
	}

	cfgs, err := loadConfigFile(dir)
	if err != nil {
		return Config{}, err
	}

	zc, ok := cfgs[zf.Zone]
	if !ok {
		return Config{}, fmt.Errorf("config: no config.json entry for zone %q", zf.Zone)
	}

	return Config{Zone: zf.Zone, ZoneConfig: zc}, nil
}

func loadZoneFile(dir string) (zoneFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, "zone.json"))
	if err != nil {
		return zoneFile{}, fmt.Errorf("config: read zone.json: %w", err)
	}
	var zf zoneFile
	if err := json.Unmarshal(data, &zf); err != nil {
		return zoneFile{}, fmt.Errorf("config: parse zone.json: %w", err)
	}
	if zf.Zone == "" {
		return zoneFile{}, fmt.Errorf("config: zone.json missing \"zone\"")
	}
	return zf, nil
}

func loadConfigFile(dir string) (map[string]ZoneConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("config: read config.json: %w", err)
	}

	var raw map[string]rawZoneConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse config.json: %w", err)
	}

	out := make(map[string]ZoneConfig, len(raw))
	for zone, entry := range raw {
		zc, err := parseZoneEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("config: zone %q: %w", zone, err)
		}
		out[zone] = zc
	}
	return out, nil
}

func parseZoneEntry(entry rawZoneConfig) (ZoneConfig, error) {
	var zc ZoneConfig
	fixed := map[string]json.RawMessage{}
	for k, v := range entry {
		if fixedKeys[k] {
			fixed[k] = v
		}
	}
	fixedJSON, err := json.Marshal(fixed)
	if err != nil {
		return ZoneConfig{}, err
	}
	if err := json.Unmarshal(fixedJSON, &zc); err != nil {
		return ZoneConfig{}, fmt.Errorf("parse fixed keys: %w", err)
	}

	zc.Readers = map[string]ReaderDef{}
	for k, v := range entry {
		if fixedKeys[k] {
			continue
		}
		var rd ReaderDef
		if err := json.Unmarshal(v, &rd); err != nil {
			continue // not a reader-shaped object; ignore unknown extra keys
		}
		if rd.D0 != "" && rd.D1 != "" {
			zc.Readers[k] = rd
		}
	}
	return zc, nil
}
