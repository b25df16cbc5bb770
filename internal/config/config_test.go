package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NAVWATCH_HISTORY", "")
	t.Setenv("NAVWATCH_POLL_INTERVAL_MS", "")
	t.Setenv("NAVWATCH_ROOT_FRAGMENT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.History != HistoryMemory {
		t.Fatalf("History = %q; want %q", cfg.History, HistoryMemory)
	}
	if cfg.PollIntervalMS != 200 {
		t.Fatalf("PollIntervalMS = %d; want 200", cfg.PollIntervalMS)
	}
	if cfg.RootFragment != "#home" {
		t.Fatalf("RootFragment = %q; want #home", cfg.RootFragment)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NAVWATCH_HISTORY", "CDP")
	t.Setenv("CHROMIUM_CDP_ADDRESS", "10.0.0.5")
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("NAVWATCH_ROOT_FRAGMENT", "start")
	t.Setenv("NAVWATCH_EVAL_TIMEOUT_MS", "10")
	t.Setenv("NAVWATCH_PORT_CANDIDATES", " 127.0.0.1:1 ,, 127.0.0.1:2 ")
	t.Setenv("NAVWATCH_LAUNCH_BROWSER", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.History != HistoryCDP {
		t.Fatalf("History = %q; want %q", cfg.History, HistoryCDP)
	}
	if got := cfg.CDPURL(); got != "http://10.0.0.5:9333" {
		t.Fatalf("CDPURL() = %q; want http://10.0.0.5:9333", got)
	}
	if cfg.RootFragment != "#start" {
		t.Fatalf("RootFragment = %q; want #start", cfg.RootFragment)
	}
	if cfg.EvalTimeoutMS != 1000 {
		t.Fatalf("EvalTimeoutMS = %d; want clamp to 1000", cfg.EvalTimeoutMS)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[1] != "127.0.0.1:2" {
		t.Fatalf("PortCandidates = %q; want two trimmed entries", cfg.PortCandidates)
	}
	if cfg.LaunchBrowser {
		t.Fatalf("LaunchBrowser = true; want default false for invalid value")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("NAVWATCH_HISTORY", "selenium")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil; want unknown backend error")
	}
}

func TestLoadRoutesMissingFileUsesDefault(t *testing.T) {
	routes, err := LoadRoutes(filepath.Join(t.TempDir(), "routes.yaml"))
	if err != nil {
		t.Fatalf("LoadRoutes() error = %v", err)
	}
	if len(routes) != 1 || routes[0].Fragment != "#home" || routes[0].ControllerID != "HomeView" {
		t.Fatalf("LoadRoutes() = %+v; want default #home route", routes)
	}
	routes[0].ControllerID = "Mutated"
	if DefaultRoutes[0].ControllerID != "HomeView" {
		t.Fatalf("DefaultRoutes mutated through LoadRoutes result")
	}
}

func TestLoadRoutesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := "routes:\n  - fragment: \"#home\"\n    controller: HomeView\n  - fragment: \"#list\"\n    controller: \" ListView \"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	routes, err := LoadRoutes(path)
	if err != nil {
		t.Fatalf("LoadRoutes() error = %v", err)
	}
	if len(routes) != 2 || routes[1].Fragment != "#list" || routes[1].ControllerID != "ListView" {
		t.Fatalf("LoadRoutes() = %+v; want #home, #list in order", routes)
	}
}

func TestParseRoutesValidation(t *testing.T) {
	cases := map[string]string{
		"empty":         "routes: []\n",
		"no hash":       "routes:\n  - fragment: home\n    controller: HomeView\n",
		"no fragment":   "routes:\n  - controller: HomeView\n",
		"no controller": "routes:\n  - fragment: \"#home\"\n",
		"bad yaml":      "routes: [\n",
	}
	for name, doc := range cases {
		if _, err := ParseRoutes([]byte(doc)); err == nil {
			t.Fatalf("ParseRoutes(%s) error = nil; want error", name)
		}
	}
}
