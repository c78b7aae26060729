package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProxyAddr    = "[::]:25565"
	DefaultHttpApiAddr  = "[::]:80"
	DefaultMaxFrameSize = 65536
	DefaultTimeout      = 5 * time.Second
)

// Duration wraps time.Duration so we can implement custom
// YAML and JSON (un)marshaling from a string like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var durationStr string
	if err := value.Decode(&durationStr); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var durationStr string
	if err := json.Unmarshal(data, &durationStr); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Config is the persisted snapshot: the route table plus the two listen
// addresses, alongside a few tuning knobs. It can be read from YAML or JSON.
type Config struct {
	// Routes maps a hostname to the backend "ip:port" it is served by.
	Routes         map[string]string `yaml:"routes"          json:"routes"`
	MinecraftProxy string            `yaml:"minecraft_proxy" json:"minecraft_proxy"`
	HttpApiServer  string            `yaml:"http_api_server" json:"http_api_server"`

	LogLevel    string          `yaml:"log_level,omitempty"    json:"log_level,omitempty"`
	MetricsAddr string          `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	Handshake   HandshakeConfig `yaml:"handshake"              json:"handshake"`
	DialTimeout Duration        `yaml:"dial_timeout"           json:"dial_timeout"`
}

type HandshakeConfig struct {
	MaxFrameSize int      `yaml:"max_frame_size" json:"max_frame_size"`
	Timeout      Duration `yaml:"timeout"        json:"timeout"`
}

// Default is the configuration used when no snapshot exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ErrEmptySnapshot is returned for a snapshot that holds no mapping, such as
// an empty file, a bare "null" or only comments.
var ErrEmptySnapshot = errors.New("snapshot is empty or not a mapping")

// Parse decodes a snapshot document, filling in defaults for anything it
// leaves out and validating every route address. The document must be a
// mapping; an empty one is corrupt, not a request for defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	// Attempt YAML unmarshal first
	var doc yaml.Node
	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
			return nil, ErrEmptySnapshot
		}
		yamlErr = doc.Decode(&cfg)
	}
	if yamlErr != nil {
		// If YAML fails, we try JSON
		cfg = Config{}
		jsonErr := json.Unmarshal(data, &cfg)
		if jsonErr != nil {
			return nil, fmt.Errorf(
				"could not parse snapshot as YAML or JSON. YAML error: %v; JSON error: %v",
				yamlErr, jsonErr,
			)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every route points at a literal "ip:port".
func (c *Config) Validate() error {
	for hostname, addr := range c.Routes {
		if _, err := netip.ParseAddrPort(addr); err != nil {
			return fmt.Errorf("route %q has invalid backend address %q: %w", hostname, addr, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Routes == nil {
		c.Routes = make(map[string]string)
	}
	if c.MinecraftProxy == "" {
		c.MinecraftProxy = DefaultProxyAddr
	}
	if c.HttpApiServer == "" {
		c.HttpApiServer = DefaultHttpApiAddr
	}
	if c.Handshake.MaxFrameSize <= 0 {
		c.Handshake.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Handshake.Timeout.Duration <= 0 {
		c.Handshake.Timeout.Duration = DefaultTimeout
	}
	if c.DialTimeout.Duration <= 0 {
		c.DialTimeout.Duration = DefaultTimeout
	}
}
