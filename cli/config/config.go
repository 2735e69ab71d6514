package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/justapithecus/spotlight/journal"
	"github.com/justapithecus/spotlight/wire"
)

// Config is a spotlight configuration file. Every value is optional; flags
// override the file and SPOTLIGHT_* environment variables override both the
// file and the defaults.
type Config struct {
	APIURL   string `yaml:"api_url" toml:"api_url" env:"API_URL"`
	Token    string `yaml:"token" toml:"token" env:"TOKEN"`
	UserID   string `yaml:"user_id" toml:"user_id" env:"USER_ID"`
	Encoding string `yaml:"encoding" toml:"encoding" env:"ENCODING"`

	Live       LiveConfig       `yaml:"live" toml:"live" envPrefix:"LIVE_"`
	Navigation NavigationConfig `yaml:"navigation" toml:"navigation" envPrefix:"NAV_"`
	Journal    JournalConfig    `yaml:"journal" toml:"journal" envPrefix:"JOURNAL_"`
	Adapter    AdapterConfig    `yaml:"adapter" toml:"adapter" envPrefix:"ADAPTER_"`
	Log        LogConfig        `yaml:"log" toml:"log" envPrefix:"LOG_"`
	Tracing    TracingConfig    `yaml:"tracing" toml:"tracing" envPrefix:"TRACING_"`
}

// LiveConfig tunes the live channel and fetches.
type LiveConfig struct {
	FetchTimeout       Duration `yaml:"fetch_timeout" toml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	SettleDelay        Duration `yaml:"settle_delay" toml:"settle_delay" env:"SETTLE_DELAY"`
	MaxMessageBytes    int      `yaml:"max_message_bytes" toml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	SuppressDuplicates bool     `yaml:"suppress_duplicates" toml:"suppress_duplicates" env:"SUPPRESS_DUPLICATES"`
}

// NavigationConfig tunes screen transitions and the snapshot cache.
type NavigationConfig struct {
	Debounce         Duration `yaml:"debounce" toml:"debounce" env:"DEBOUNCE"`
	SnapshotCapacity int      `yaml:"snapshot_capacity" toml:"snapshot_capacity" env:"SNAPSHOT_CAPACITY"`
	SnapshotMaxAge   Duration `yaml:"snapshot_max_age" toml:"snapshot_max_age" env:"SNAPSHOT_MAX_AGE"`
}

// JournalConfig selects the delivery journal backend.
type JournalConfig struct {
	// Backend is none, memory, fs or s3. Empty means none.
	Backend string `yaml:"backend" toml:"backend" env:"BACKEND"`
	Dataset string `yaml:"dataset" toml:"dataset" env:"DATASET"`
	// Path is a directory for fs and bucket/prefix for s3.
	Path          string   `yaml:"path" toml:"path" env:"PATH"`
	Region        string   `yaml:"region" toml:"region" env:"REGION"`
	Endpoint      string   `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	S3PathStyle   bool     `yaml:"s3_path_style" toml:"s3_path_style" env:"S3_PATH_STYLE"`
	FlushCount    int      `yaml:"flush_count" toml:"flush_count" env:"FLUSH_COUNT"`
	FlushInterval Duration `yaml:"flush_interval" toml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// AdapterConfig selects the interaction event publisher.
type AdapterConfig struct {
	// Type is webhook or redis. Empty disables reporting.
	Type    string            `yaml:"type" toml:"type" env:"TYPE"`
	URL     string            `yaml:"url" toml:"url" env:"URL"`
	Channel string            `yaml:"channel,omitempty" toml:"channel" env:"CHANNEL"`
	Mode    string            `yaml:"mode,omitempty" toml:"mode" env:"MODE"`
	MaxLen  int64             `yaml:"max_len,omitempty" toml:"max_len" env:"MAX_LEN"`
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers"`
	Timeout Duration          `yaml:"timeout,omitempty" toml:"timeout" env:"TIMEOUT"`
	Retries int               `yaml:"retries,omitempty" toml:"retries" env:"RETRIES"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level" toml:"level" env:"LEVEL"`
}

// TracingConfig enables OTLP/HTTP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	Insecure    bool   `yaml:"insecure" toml:"insecure" env:"INSECURE"`
	ServiceName string `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// Duration wraps time.Duration so "10s" parses from YAML, TOML and env.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string. Used by TOML and env decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	} else if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_url %q must be an http(s) URL", c.APIURL))
	}
	if _, err := wire.ParseEncoding(c.Encoding); err != nil {
		errs = append(errs, err)
	}
	if c.Live.MaxMessageBytes < 0 {
		errs = append(errs, errors.New("live.max_message_bytes must not be negative"))
	}
	if c.Navigation.SnapshotCapacity < 0 {
		errs = append(errs, errors.New("navigation.snapshot_capacity must not be negative"))
	}

	switch c.Journal.Backend {
	case "", "none", journal.BackendMemory:
	case journal.BackendFS, journal.BackendS3:
		if c.Journal.Path == "" {
			errs = append(errs, fmt.Errorf("journal.path is required for the %s backend", c.Journal.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.backend %q must be none, memory, fs or s3", c.Journal.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q must be webhook or redis", c.Adapter.Type))
	}
	if c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}
	return errors.Join(errs...)
}

// JournalEnabled reports whether a journal backend is configured.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Backend != "" && c.Journal.Backend != "none"
}

// JournalConfig converts the journal section. Returns nil when disabled.
func (c *Config) JournalConfig() *journal.Config {
	if !c.JournalEnabled() {
		return nil
	}
	jc := &journal.Config{
		Backend: c.Journal.Backend,
		Dataset: c.Journal.Dataset,
		Path:    c.Journal.Path,
	}
	if jc.Backend == journal.BackendS3 {
		bucket, prefix := journal.ParseS3Path(c.Journal.Path)
		jc.Path = ""
		jc.S3 = journal.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       c.Journal.Region,
			Endpoint:     c.Journal.Endpoint,
			UsePathStyle: c.Journal.S3PathStyle,
		}
	}
	return jc
}
