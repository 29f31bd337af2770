// Package config loads ticketsync settings from a TOML or YAML file, applies
// TICKETSYNC_* environment overrides and fills in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // OTRS zones must resolve in minimal containers

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "TICKETSYNC_CONFIG"

// DefaultConfigFile is used when neither --config nor TICKETSYNC_CONFIG is set.
const DefaultConfigFile = "ticketsync.toml"

// Defaults.
const (
	DefaultInterval    = 60 * time.Second
	DefaultFloodCap    = 5
	DefaultPaceDelay   = 1500 * time.Millisecond
	DefaultStopTimeout = 30 * time.Second
	DefaultTickTimeout = 2 * time.Minute
	DefaultSearchLimit = 50
	DefaultWebservice  = "TelegramBot"
	DefaultAPIURL      = "https://api.telegram.org"
)

// Duration decodes from strings such as "60s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config is the full ticketsync configuration.
type Config struct {
	OTRS     OTRSConfig     `toml:"otrs" yaml:"otrs"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Sync     SyncConfig     `toml:"sync" yaml:"sync"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Daemon   DaemonConfig   `toml:"daemon" yaml:"daemon"`
}

// OTRSConfig configures the GenericInterface web service.
type OTRSConfig struct {
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	Webservice  string   `toml:"webservice" yaml:"webservice"`
	Username    string   `toml:"username" yaml:"username"`
	Password    string   `toml:"password" yaml:"password"`
	States      []string `toml:"states" yaml:"states"`
	Queues      []string `toml:"queues" yaml:"queues"`
	SearchLimit int      `toml:"search_limit" yaml:"search_limit"`

	// Timezone is the IANA zone OTRS timestamps are written in.
	Timezone string `toml:"timezone" yaml:"timezone"`
}

// TelegramConfig configures the bot and the destination chat.
type TelegramConfig struct {
	Token   string `toml:"token" yaml:"token"`
	APIURL  string `toml:"api_url" yaml:"api_url"`
	ChatID  int64  `toml:"chat_id" yaml:"chat_id"`
	TopicID int64  `toml:"topic_id" yaml:"topic_id"`
	Silent  bool   `toml:"silent" yaml:"silent"`
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	Interval  Duration `toml:"interval" yaml:"interval"`
	FloodCap  int      `toml:"flood_cap" yaml:"flood_cap"`
	PaceDelay Duration `toml:"pace_delay" yaml:"pace_delay"`
}

// StoreConfig selects the handle store backend.
type StoreConfig struct {
	// DSN is sqlite://path, postgres://..., or memory://.
	DSN string `toml:"dsn" yaml:"dsn"`
}

// DaemonConfig controls the background process.
type DaemonConfig struct {
	StateDir    string   `toml:"state_dir" yaml:"state_dir"`
	StopTimeout Duration `toml:"stop_timeout" yaml:"stop_timeout"`
	TickTimeout Duration `toml:"tick_timeout" yaml:"tick_timeout"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".ticketsync")

	return &Config{
		OTRS: OTRSConfig{
			Webservice:  DefaultWebservice,
			SearchLimit: DefaultSearchLimit,
			Timezone:    "UTC",
		},
		Telegram: TelegramConfig{
			APIURL: DefaultAPIURL,
		},
		Sync: SyncConfig{
			Interval:  Duration{DefaultInterval},
			FloodCap:  DefaultFloodCap,
			PaceDelay: Duration{DefaultPaceDelay},
		},
		Daemon: DaemonConfig{
			StateDir:    stateDir,
			StopTimeout: Duration{DefaultStopTimeout},
			TickTimeout: Duration{DefaultTickTimeout},
		},
	}
}

// ResolvePath picks the config file: the flag, then TICKETSYNC_CONFIG, then
// ./ticketsync.toml. explicit reports whether the path was asked for.
func ResolvePath(flag string) (path string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, true
	}
	return DefaultConfigFile, false
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// LoadFile is Load for a path that may legitimately be absent. A missing
// file at a non-explicit path falls back to defaults and environment.
func LoadFile(path string, explicit bool) (*Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return Load("")
		}
	}
	return Load(path)
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	}
}

// envOverrides maps TICKETSYNC_* variables onto config fields.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, value string) error
}{
	{"TICKETSYNC_OTRS_URL", func(c *Config, v string) error { c.OTRS.BaseURL = v; return nil }},
	{"TICKETSYNC_OTRS_WEBSERVICE", func(c *Config, v string) error { c.OTRS.Webservice = v; return nil }},
	{"TICKETSYNC_OTRS_USERNAME", func(c *Config, v string) error { c.OTRS.Username = v; return nil }},
	{"TICKETSYNC_OTRS_PASSWORD", func(c *Config, v string) error { c.OTRS.Password = v; return nil }},
	{"TICKETSYNC_OTRS_QUEUES", func(c *Config, v string) error { c.OTRS.Queues = splitList(v); return nil }},
	{"TICKETSYNC_TELEGRAM_TOKEN", func(c *Config, v string) error { c.Telegram.Token = v; return nil }},
	{"TICKETSYNC_TELEGRAM_API_URL", func(c *Config, v string) error { c.Telegram.APIURL = v; return nil }},
	{"TICKETSYNC_TELEGRAM_CHAT_ID", func(c *Config, v string) error { return parseInt(v, &c.Telegram.ChatID) }},
	{"TICKETSYNC_TELEGRAM_TOPIC_ID", func(c *Config, v string) error { return parseInt(v, &c.Telegram.TopicID) }},
	{"TICKETSYNC_SYNC_INTERVAL", func(c *Config, v string) error { return c.Sync.Interval.UnmarshalText([]byte(v)) }},
	{"TICKETSYNC_STORE_DSN", func(c *Config, v string) error { c.Store.DSN = v; return nil }},
	{"TICKETSYNC_STATE_DIR", func(c *Config, v string) error { c.Daemon.StateDir = v; return nil }},
}

func applyEnv(cfg *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func parseInt(v string, dst *int64) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fillDefaults covers fields the file or environment set to zero.
func (c *Config) fillDefaults() {
	d := Default()
	if c.OTRS.Webservice == "" {
		c.OTRS.Webservice = d.OTRS.Webservice
	}
	if c.OTRS.SearchLimit == 0 {
		c.OTRS.SearchLimit = d.OTRS.SearchLimit
	}
	if c.OTRS.Timezone == "" {
		c.OTRS.Timezone = d.OTRS.Timezone
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = d.Telegram.APIURL
	}
	if c.Sync.Interval.Duration == 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.FloodCap == 0 {
		c.Sync.FloodCap = d.Sync.FloodCap
	}
	if c.Sync.PaceDelay.Duration == 0 {
		c.Sync.PaceDelay = d.Sync.PaceDelay
	}
	if c.Daemon.StateDir == "" {
		c.Daemon.StateDir = d.Daemon.StateDir
	}
	c.Daemon.StateDir = expandHome(c.Daemon.StateDir)
	if c.Daemon.StopTimeout.Duration == 0 {
		c.Daemon.StopTimeout = d.Daemon.StopTimeout
	}
	if c.Daemon.TickTimeout.Duration == 0 {
		c.Daemon.TickTimeout = d.Daemon.TickTimeout
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "sqlite://" + filepath.Join(c.Daemon.StateDir, "ticketsync.db")
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Destination is the chat the daemon projects into.
func (c *Config) Destination() ticket.Destination {
	return ticket.Destination{ChatID: c.Telegram.ChatID, TopicID: c.Telegram.TopicID}
}

// Location resolves OTRS.Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.OTRS.Timezone)
}

// Redacted returns a copy safe to print: secrets are masked and the store
// DSN loses its password.
func (c *Config) Redacted() *Config {
	out := *c
	out.OTRS.States = append([]string(nil), c.OTRS.States...)
	out.OTRS.Queues = append([]string(nil), c.OTRS.Queues...)
	out.OTRS.Password = mask(c.OTRS.Password)
	out.Telegram.Token = mask(c.Telegram.Token)
	out.Store.DSN = redactDSN(c.Store.DSN)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
