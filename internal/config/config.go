// Package config loads the taskgraph server configuration from a TOML
// file, applying defaults for everything the file leaves out.
//
// A missing config file is not an error: Load returns the defaults, so
// `taskgraph serve` works out of the box against a local MongoDB.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/taskdeck/taskgraph/pkg/layout"
)

// Config is the full server configuration.
type Config struct {
	Server Server `toml:"server"`
	Mongo  Mongo  `toml:"mongo"`
	Redis  Redis  `toml:"redis"`
	Layout Layout `toml:"layout"`
	Retry  Retry  `toml:"retry"`
}

// Server configures the HTTP listener.
type Server struct {
	// Listen is the address the API binds to, e.g. ":8080".
	Listen string `toml:"listen"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// Mongo configures the durable store.
type Mongo struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// Redis configures the change-notification channel. An empty Addr
// disables push notifications; clients fall back to polling.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Layout configures the default layout parameters for server-triggered
// layout runs.
type Layout struct {
	Direction   string  `toml:"direction"`
	NodeSpacing float64 `toml:"node_spacing"`
	RankSpacing float64 `toml:"rank_spacing"`
}

// Retry configures client-side persistence retries.
type Retry struct {
	Attempts     int      `toml:"attempts"`
	InitialDelay duration `toml:"initial_delay"`
}

// duration makes time.Duration parseable from TOML strings like "500ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: Server{
			Listen:          ":8080",
			ShutdownTimeout: duration(10 * time.Second),
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "taskgraph",
		},
		Layout: Layout{
			Direction:   layout.DirectionTB,
			NodeSpacing: layout.DefaultNodeSpacing,
			RankSpacing: layout.DefaultRankSpacing,
		},
		Retry: Retry{
			Attempts:     3,
			InitialDelay: duration(500 * time.Millisecond),
		},
	}
}

// Load reads the TOML file at path over the defaults. path == "" or a
// missing file yields Default(). Unknown keys are rejected so typos fail
// loudly instead of silently falling back.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	lc := c.LayoutConfig()
	if err := lc.Validate(); err != nil {
		return err
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		return fmt.Errorf("mongo.uri and mongo.database are required")
	}
	return nil
}

// LayoutConfig converts the layout section into the engine's form.
func (c Config) LayoutConfig() layout.Config {
	return layout.Config{
		Direction:   c.Layout.Direction,
		NodeSpacing: c.Layout.NodeSpacing,
		RankSpacing: c.Layout.RankSpacing,
	}
}
