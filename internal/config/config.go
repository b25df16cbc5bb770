package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	HistoryMemory   = "memory"
	HistoryCDP      = "cdp"
	HistoryChromedp = "chromedp"
)

// Config holds all configuration for the navigation watcher host.
type Config struct {
	// History backend: memory, cdp (raw websocket) or chromedp.
	History    string
	InitialURL string

	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	TabURLFilter  string
	EvalTimeoutMS int

	// Watcher behavior
	PollIntervalMS int
	RootFragment   string
	RoutesFile     string

	// HTTP control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging and journal
	LogLevel          string
	LogFile           string
	JournalDir        string
	JournalMaxSizeMB  int
	JournalBufferSize int

	// Optional browser launch
	LaunchBrowser   bool
	BrowserHeadless bool
	StartURL        string
	ProfileDir      string
	BrowserLogDir   string
	CrashDumpDir    string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		History:           strings.ToLower(getEnvOrDefault("NAVWATCH_HISTORY", HistoryMemory)),
		InitialURL:        getEnvOrDefault("NAVWATCH_INITIAL_URL", "http://localhost/"),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:      getEnvOrDefault("NAVWATCH_TAB_URL_FILTER", "localhost"),
		EvalTimeoutMS:     getEnvIntOrDefault("NAVWATCH_EVAL_TIMEOUT_MS", 5000),
		PollIntervalMS:    getEnvIntOrDefault("NAVWATCH_POLL_INTERVAL_MS", 200),
		RootFragment:      getEnvOrDefault("NAVWATCH_ROOT_FRAGMENT", "#home"),
		RoutesFile:        getEnvOrDefault("NAVWATCH_ROUTES_FILE", "./config/routes.yaml"),
		BindAddr:          getEnvOrDefault("NAVWATCH_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("NAVWATCH_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:  getEnvBoolOrDefault("NAVWATCH_PORT_AUTO_FALLBACK", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("NAVWATCH_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("NAVWATCH_LOG_FILE", "logs/navwatch.log"),
		JournalDir:        getEnvOrDefault("NAVWATCH_JOURNAL_DIR", "./journal"),
		JournalMaxSizeMB:  getEnvIntOrDefault("NAVWATCH_JOURNAL_MAX_SIZE_MB", 50),
		JournalBufferSize: getEnvIntOrDefault("NAVWATCH_JOURNAL_BUFFER_SIZE", 1024),
		LaunchBrowser:     getEnvBoolOrDefault("NAVWATCH_LAUNCH_BROWSER", false),
		BrowserHeadless:   getEnvBoolOrDefault("NAVWATCH_BROWSER_HEADLESS", false),
		StartURL:          getEnvOrDefault("NAVWATCH_START_URL", "http://localhost/"),
		ProfileDir:        getEnvOrDefault("NAVWATCH_PROFILE_DIR", "./browser/profile"),
		BrowserLogDir:     getEnvOrDefault("NAVWATCH_BROWSER_LOG_DIR", "./browser/logs"),
		CrashDumpDir:      getEnvOrDefault("NAVWATCH_CRASH_DUMP_DIR", "./browser/crashes"),
	}

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.PollIntervalMS < 10 {
		cfg.PollIntervalMS = 10
	}
	if !strings.HasPrefix(cfg.RootFragment, "#") {
		cfg.RootFragment = "#" + cfg.RootFragment
	}

	switch cfg.History {
	case HistoryMemory, HistoryCDP, HistoryChromedp:
	default:
		return nil, fmt.Errorf("config: NAVWATCH_HISTORY=%q, want %s, %s or %s", cfg.History, HistoryMemory, HistoryCDP, HistoryChromedp)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
