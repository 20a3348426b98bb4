package cmd

import (
	"fmt"
	"os"

	"github.com/brogergvhs/noveld/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagIgnoreConfig bool
	flagDebug        bool

	// engine
	flagLibraryDir     string
	flagMaxInFlight    int
	flagMinDelay       string
	flagMaxAttempts    int
	flagRequestTimeout string

	// headers/auth
	flagCookie     string
	flagCookieFile string
	flagUserAgent  string
	flagCloudflare bool
)

var rootCmd = &cobra.Command{
	Use:           "noveld",
	Short:         "Novel chapter downloader with a local library",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.BoolVar(&flagIgnoreConfig, "ignore-config", false, "ignore config and use only CLI flags")

	pf.StringVar(&flagLibraryDir, "library", "", "library directory (catalog and chapter text)")
	pf.IntVar(&flagMaxInFlight, "max-in-flight", 0, "concurrent requests per host")
	pf.StringVar(&flagMinDelay, "min-delay", "", "minimum spacing between requests to one host (e.g. 800ms)")
	pf.IntVar(&flagMaxAttempts, "max-attempts", 0, "attempts per chapter before it is marked failed")
	pf.StringVar(&flagRequestTimeout, "timeout", "", "per-request timeout (e.g. 20s)")

	pf.StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	pf.StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	pf.StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")
	pf.BoolVar(&flagCloudflare, "cloudflare", false, "route requests through the Cloudflare bypass transport")
}

// loadConfig merges the active profile, the environment and the persistent
// flags.
func loadConfig() (*config.Config, string, error) {
	minDelay, err := parseDurationFlag("min-delay", flagMinDelay)
	if err != nil {
		return nil, "", err
	}
	timeout, err := parseDurationFlag("timeout", flagRequestTimeout)
	if err != nil {
		return nil, "", err
	}

	return config.LoadMerged(config.Options{
		IgnoreConfig:     flagIgnoreConfig,
		Debug:            flagDebug,
		LibraryDir:       flagLibraryDir,
		MaxInFlight:      flagMaxInFlight,
		MinDelay:         minDelay,
		MaxAttempts:      flagMaxAttempts,
		RequestTimeout:   timeout,
		Cookie:           flagCookie,
		CookieFile:       flagCookieFile,
		UserAgent:        flagUserAgent,
		CloudflareBypass: flagCloudflare,
	})
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
