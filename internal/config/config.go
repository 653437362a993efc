package config

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/pagewire/internal/errors"
	"github.com/vango-dev/pagewire/pkg/server"
	"github.com/vango-dev/pagewire/pkg/transport"
)

// FileNames are the config files Find looks for, in order.
var FileNames = []string{"pagewire.yaml", "pagewire.yml", "pagewire.json"}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAGEWIRE_"

// Config is the on-disk configuration. Fields left out of the file keep
// their defaults.
type Config struct {
	Address   string `yaml:"address" json:"address"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`

	AjaxOnly        bool `yaml:"ajax_only" json:"ajax_only"`
	DisableSessions bool `yaml:"disable_sessions" json:"disable_sessions"`

	CookieName    string   `yaml:"cookie_name" json:"cookie_name"`
	CookieMaxAge  Duration `yaml:"cookie_max_age" json:"cookie_max_age"`
	SecureCookies bool     `yaml:"secure_cookies" json:"secure_cookies"`

	Crash           bool     `yaml:"crash" json:"crash"`
	Latency         Duration `yaml:"latency" json:"latency"`
	PageIdleTimeout Duration `yaml:"page_idle_timeout" json:"page_idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	EventPath      string `yaml:"event_path" json:"event_path"`
	SocketPath     string `yaml:"socket_path" json:"socket_path"`
	MetricsPath    string `yaml:"metrics_path" json:"metrics_path"`
	DisableMetrics bool   `yaml:"disable_metrics" json:"disable_metrics"`
	Tracing        bool   `yaml:"tracing" json:"tracing"`

	Favicon string `yaml:"favicon" json:"favicon"`
	Debug   bool   `yaml:"debug" json:"debug"`

	Channel ChannelConfig `yaml:"channel" json:"channel"`
	Log     LogConfig     `yaml:"log" json:"log"`

	path string
}

// ChannelConfig mirrors transport.ChannelConfig.
type ChannelConfig struct {
	ReadTimeout       Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout" json:"write_timeout"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	MaxMessageSize    int64    `yaml:"max_message_size" json:"max_message_size"`
	MaxEventQueue     int      `yaml:"max_event_queue" json:"max_event_queue"`
	EventRate         float64  `yaml:"event_rate" json:"event_rate"`
	EventBurst        int      `yaml:"event_burst" json:"event_burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// New returns a Config holding the server defaults.
func New() *Config {
	d := server.DefaultConfig()
	return &Config{
		Address:         d.Address,
		CookieName:      d.CookieName,
		CookieMaxAge:    Duration(d.CookieMaxAge),
		PageIdleTimeout: Duration(d.PageIdleTimeout),
		ShutdownTimeout: Duration(d.ShutdownTimeout),
		EventPath:       d.EventPath,
		SocketPath:      d.SocketPath,
		MetricsPath:     d.MetricsPath,
		Channel: ChannelConfig{
			ReadTimeout:       Duration(d.Channel.ReadTimeout),
			WriteTimeout:      Duration(d.Channel.WriteTimeout),
			HeartbeatInterval: Duration(d.Channel.HeartbeatInterval),
			MaxMessageSize:    d.Channel.MaxMessageSize,
			MaxEventQueue:     d.Channel.MaxEventQueue,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path, applies PAGEWIRE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New("C006").WithDetail("Path: " + path).Wrap(err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".json":
		err = json.Unmarshal(data, c)
	default:
		return errors.New("C007").WithDetail("Path: " + path)
	}
	if err != nil {
		return errors.New("C008").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}

	c.path = path
	return nil
}

// Find returns the first config file from FileNames present in dir, or ""
// when there is none.
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Path returns the file the config was read from, if any.
func (c *Config) Path() string {
	return c.path
}

type envSetter func(c *Config, v string) error

var envOverrides = []struct {
	name string
	set  envSetter
}{
	{"ADDRESS", setString(func(c *Config) *string { return &c.Address })},
	{"SECRET_KEY", setString(func(c *Config) *string { return &c.SecretKey })},
	{"AJAX_ONLY", setBool(func(c *Config) *bool { return &c.AjaxOnly })},
	{"DISABLE_SESSIONS", setBool(func(c *Config) *bool { return &c.DisableSessions })},
	{"COOKIE_NAME", setString(func(c *Config) *string { return &c.CookieName })},
	{"SECURE_COOKIES", setBool(func(c *Config) *bool { return &c.SecureCookies })},
	{"CRASH", setBool(func(c *Config) *bool { return &c.Crash })},
	{"LATENCY", setDuration(func(c *Config) *Duration { return &c.Latency })},
	{"PAGE_IDLE_TIMEOUT", setDuration(func(c *Config) *Duration { return &c.PageIdleTimeout })},
	{"DISABLE_METRICS", setBool(func(c *Config) *bool { return &c.DisableMetrics })},
	{"TRACING", setBool(func(c *Config) *bool { return &c.Tracing })},
	{"DEBUG", setBool(func(c *Config) *bool { return &c.Debug })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv overrides fields from environment variables named EnvPrefix plus
// the field, e.g. PAGEWIRE_SECRET_KEY. lookup is usually os.LookupEnv.
// Every malformed value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, o := range envOverrides {
		name := EnvPrefix + o.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := o.set(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, errors.New("C009").WithField(name).Wrap(err))
		}
	}
	return errors.Join(errs...)
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setBool(field func(*Config) *bool) envSetter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

// Validate checks the settings this package owns. Server settings are
// checked by server.New.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, errors.New("C003").WithField("log.level").
			WithDetail("Got " + strconv.Quote(c.Log.Level) + "."))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, errors.New("C004").WithField("log.format").
			WithDetail("Got " + strconv.Quote(c.Log.Format) + "."))
	}
	return errors.Join(errs...)
}

// Server converts c into a server.Config.
func (c *Config) Server() *server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = c.Address
	cfg.SecretKey = c.SecretKey
	cfg.AjaxOnly = c.AjaxOnly
	cfg.DisableSessions = c.DisableSessions
	cfg.CookieName = c.CookieName
	cfg.CookieMaxAge = time.Duration(c.CookieMaxAge)
	cfg.SecureCookies = c.SecureCookies
	cfg.CrashOnHandlerError = c.Crash
	cfg.Latency = time.Duration(c.Latency)
	cfg.PageIdleTimeout = time.Duration(c.PageIdleTimeout)
	cfg.ShutdownTimeout = time.Duration(c.ShutdownTimeout)
	cfg.EventPath = c.EventPath
	cfg.SocketPath = c.SocketPath
	cfg.MetricsPath = c.MetricsPath
	cfg.DisableMetrics = c.DisableMetrics
	cfg.Tracing = c.Tracing
	cfg.Favicon = c.Favicon
	cfg.Debug = c.Debug
	cfg.Channel = transport.ChannelConfig{
		ReadTimeout:       time.Duration(c.Channel.ReadTimeout),
		WriteTimeout:      time.Duration(c.Channel.WriteTimeout),
		HeartbeatInterval: time.Duration(c.Channel.HeartbeatInterval),
		MaxMessageSize:    c.Channel.MaxMessageSize,
		MaxEventQueue:     c.Channel.MaxEventQueue,
		EventRate:         c.Channel.EventRate,
		EventBurst:        c.Channel.EventBurst,
	}
	return cfg
}

// Logger builds the slog logger described by c.Log. Debug forces the debug
// level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}
