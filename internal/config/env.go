package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "NOVELD"

var envKeys = []string{
	"library_dir",
	"max_in_flight",
	"min_delay",
	"max_attempts",
	"base_backoff",
	"max_backoff",
	"request_timeout",
	"min_body_length",
	"max_pages",
	"extra_hosts",
	"cookie",
	"cookie_file",
	"user_agent",
	"cloudflare_bypass",
	"debug",
}

// applyEnv overlays NOVELD_<KEY> variables on c. Lists are comma separated.
func applyEnv(c *Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}

	set("library_dir", func() { c.LibraryDir = v.GetString("library_dir") })
	set("max_in_flight", func() { c.MaxInFlight = v.GetInt("max_in_flight") })
	set("min_delay", func() { c.MinDelay = v.GetDuration("min_delay") })
	set("max_attempts", func() { c.MaxAttempts = v.GetInt("max_attempts") })
	set("base_backoff", func() { c.BaseBackoff = v.GetDuration("base_backoff") })
	set("max_backoff", func() { c.MaxBackoff = v.GetDuration("max_backoff") })
	set("request_timeout", func() { c.RequestTimeout = v.GetDuration("request_timeout") })
	set("min_body_length", func() { c.MinBodyLength = v.GetInt("min_body_length") })
	set("max_pages", func() { c.MaxPages = v.GetInt("max_pages") })
	set("extra_hosts", func() { c.ExtraHosts = splitList(v.GetString("extra_hosts")) })
	set("cookie", func() { c.Cookie = v.GetString("cookie") })
	set("cookie_file", func() { c.CookieFile = v.GetString("cookie_file") })
	set("user_agent", func() { c.UserAgent = v.GetString("user_agent") })
	set("cloudflare_bypass", func() { c.CloudflareBypass = v.GetBool("cloudflare_bypass") })
	set("debug", func() { c.Debug = v.GetBool("debug") })

	return nil
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
