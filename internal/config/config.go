// Package config holds the configuration of RestoKitt binaries. The native
// binary parses it with go-flags from an optional INI file, environment
// bindings and flags. The WASM build decodes it from a JSON options object.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" ini-name:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level" json:"level"`
	Format string `long:"format" ini-name:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format" json:"format"`
}

// InitLog configures the logger.
func InitLog(cfg LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if cfg.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if cfg.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

// BackendConfig locates the restaurant REST backend.
type BackendConfig struct {
	URL     string        `long:"url" ini-name:"url" env:"URL" default:"http://localhost:1337" description:"Base URL of the restaurant REST backend" json:"url"`
	Timeout time.Duration `long:"timeout" ini-name:"timeout" env:"TIMEOUT" default:"10s" description:"Timeout of a single backend request" json:"timeout"`
}

// StoreConfig locates the local databases.
type StoreConfig struct {
	Dir string `long:"dir" ini-name:"dir" env:"DIR" description:"Directory of the local databases. Empty keeps them in memory" json:"dir"`
}

// AssetsConfig configures the asset caches and the app shell origin.
type AssetsConfig struct {
	Origin  string `long:"origin" ini-name:"origin" env:"ORIGIN" default:"http://localhost:8000" description:"Origin serving the app shell and images" json:"origin"`
	Dir     string `long:"dir" ini-name:"dir" env:"DIR" description:"Directory of the asset caches. Empty keeps them in memory" json:"dir"`
	Version string `long:"version" ini-name:"version" env:"VERSION" default:"v4" description:"Cache generation suffix" json:"version"`
	LRUSize int    `long:"lru-size" ini-name:"lru-size" env:"LRU_SIZE" default:"128" description:"Number of assets kept in memory" json:"lruSize"`
}

// ServeConfig configures the local app shell proxy.
type ServeConfig struct {
	Addr string `long:"addr" ini-name:"addr" env:"ADDR" default:":8080" description:"Listen address of the app shell proxy and /metrics" json:"addr"`
}

// ConnectivityConfig configures reachability probing of the backend.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `long:"probe-interval" ini-name:"probe-interval" env:"PROBE_INTERVAL" default:"30s" description:"Interval between backend reachability probes. Zero disables probing" json:"probeInterval"`
}

// Config is the top-level configuration of RestoKitt.
type Config struct {
	Backend      BackendConfig      `group:"Backend" namespace:"backend" env-namespace:"BACKEND" json:"backend"`
	Store        StoreConfig        `group:"Store" namespace:"store" env-namespace:"STORE" json:"store"`
	Assets       AssetsConfig       `group:"Assets" namespace:"assets" env-namespace:"ASSETS" json:"assets"`
	Serve        ServeConfig        `group:"Serve" namespace:"serve" env-namespace:"SERVE" json:"serve"`
	Connectivity ConnectivityConfig `group:"Connectivity" namespace:"connectivity" env-namespace:"CONNECTIVITY" json:"connectivity"`
	Log          LogConfig          `group:"Logging" namespace:"log" env-namespace:"LOG" json:"log"`
}

// Defaults returns a Config populated from its `default` tags.
func Defaults() (*Config, error) {
	var cfg = new(Config)
	if _, err := flags.NewParser(cfg, flags.None).ParseArgs(nil); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// FromJSON decodes a JSON options object over the defaults. Durations are
// given in milliseconds, as JavaScript callers express them.
func FromJSON(b []byte) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return cfg, nil
	}

	var opts struct {
		*Config
		Backend struct {
			*BackendConfig
			TimeoutMillis *int64 `json:"timeout"`
		} `json:"backend"`
		Connectivity struct {
			ProbeIntervalMillis *int64 `json:"probeInterval"`
		} `json:"connectivity"`
	}
	opts.Config = cfg
	opts.Backend.BackendConfig = &cfg.Backend

	if err := json.Unmarshal(b, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if ms := opts.Backend.TimeoutMillis; ms != nil {
		cfg.Backend.Timeout = time.Duration(*ms) * time.Millisecond
	}
	if ms := opts.Connectivity.ProbeIntervalMillis; ms != nil {
		cfg.Connectivity.ProbeInterval = time.Duration(*ms) * time.Millisecond
	}
	return cfg, cfg.Validate()
}

// Validate checks values which go-flags cannot.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}
	if c.Assets.LRUSize < 0 {
		return fmt.Errorf("invalid assets lru-size %d", c.Assets.LRUSize)
	}
	if c.Connectivity.ProbeInterval < 0 {
		return fmt.Errorf("invalid connectivity probe-interval %s", c.Connectivity.ProbeInterval)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}
