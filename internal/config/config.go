package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LibraryDir string `yaml:"library_dir"`

	MaxInFlight    int           `yaml:"max_in_flight"`
	MinDelay       time.Duration `yaml:"min_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	MinBodyLength int      `yaml:"min_body_length"`
	MaxPages      int      `yaml:"max_pages"`
	ExtraHosts    []string `yaml:"extra_hosts"`

	Cookie           string `yaml:"cookie"`
	CookieFile       string `yaml:"cookie_file"`
	UserAgent        string `yaml:"user_agent"`
	CloudflareBypass bool   `yaml:"cloudflare_bypass"`

	Debug bool `yaml:"debug"`
}

// Options are command-line overrides. Zero values leave the loaded value.
type Options struct {
	IgnoreConfig     bool
	Debug            bool
	LibraryDir       string
	MaxInFlight      int
	MinDelay         time.Duration
	MaxAttempts      int
	RequestTimeout   time.Duration
	Cookie           string
	CookieFile       string
	UserAgent        string
	CloudflareBypass bool
}

func DefaultConfig() *Config {
	return &Config{
		LibraryDir:     DataRoot(),
		MaxInFlight:    2,
		MinDelay:       800 * time.Millisecond,
		MaxAttempts:    4,
		BaseBackoff:    time.Second,
		MaxBackoff:     30 * time.Second,
		RequestTimeout: 20 * time.Second,
		MinBodyLength:  50,
		MaxPages:       20,
	}
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadYAML(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadMerged resolves the effective configuration: defaults, then the
// active profile, then NOVELD_* environment variables, then opts. The second
// result describes where the profile came from.
func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg := DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			return nil, "", err
		}
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if errors.Is(err, ErrNoConfig) || activePath == "" {
		cfg := DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			return nil, "", err
		}
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `noveld config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := loadYAML(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}
	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.LibraryDir != "" {
		c.LibraryDir = o.LibraryDir
	}
	if o.MaxInFlight != 0 {
		c.MaxInFlight = o.MaxInFlight
	}
	if o.MinDelay != 0 {
		c.MinDelay = o.MinDelay
	}
	if o.MaxAttempts != 0 {
		c.MaxAttempts = o.MaxAttempts
	}
	if o.RequestTimeout != 0 {
		c.RequestTimeout = o.RequestTimeout
	}
	if o.Debug {
		c.Debug = true
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.CloudflareBypass {
		c.CloudflareBypass = true
	}
}

func normalizeDefaults(c *Config) {
	d := DefaultConfig()
	if c.LibraryDir == "" {
		c.LibraryDir = d.LibraryDir
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MinBodyLength <= 0 {
		c.MinBodyLength = d.MinBodyLength
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
}

func (c *Config) Print() {
	fmt.Printf(" -library_dir: %s\n", c.LibraryDir)
	fmt.Printf(" -max_in_flight: %d\n", c.MaxInFlight)
	fmt.Printf(" -min_delay: %s\n", c.MinDelay)
	fmt.Printf(" -max_attempts: %d\n", c.MaxAttempts)
	fmt.Printf(" -backoff: %s..%s\n", c.BaseBackoff, c.MaxBackoff)
	fmt.Printf(" -request_timeout: %s\n", c.RequestTimeout)
	fmt.Printf(" -min_body_length: %d\n", c.MinBodyLength)
	fmt.Printf(" -max_pages: %d\n", c.MaxPages)
	if len(c.ExtraHosts) > 0 {
		fmt.Printf(" -extra_hosts: %s\n", strings.Join(c.ExtraHosts, ", "))
	}
	if c.CookieFile != "" {
		fmt.Printf(" -cookie_file: %s\n", c.CookieFile)
	}
	if c.UserAgent != "" {
		fmt.Printf(" -user_agent: %s\n", c.UserAgent)
	}
	if c.CloudflareBypass {
		fmt.Printf(" -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	if c.Debug {
		fmt.Printf(" -debug: %t\n", c.Debug)
	}
}
