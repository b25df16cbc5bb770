package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/dgnsrekt/navwatch/internal/router"
	"gopkg.in/yaml.v3"
)

// DefaultRoutes is the route table used when no routes file exists.
var DefaultRoutes = []router.Route{
	{Fragment: "#home", ControllerID: "HomeView"},
}

// RoutesFile is the top-level YAML shape of the routes file.
type RoutesFile struct {
	Routes []router.Route `yaml:"routes"`
}

// LoadRoutes reads an ordered route table from a YAML file. A missing file
// yields DefaultRoutes.
func LoadRoutes(path string) ([]router.Route, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("routes file not found, using default table", "path", path)
		out := make([]router.Route, len(DefaultRoutes))
		copy(out, DefaultRoutes)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routes config: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a routes document.
func ParseRoutes(data []byte) ([]router.Route, error) {
	var doc RoutesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes config: %w", err)
	}
	if len(doc.Routes) == 0 {
		return nil, fmt.Errorf("routes config: at least one route is required")
	}
	for i, r := range doc.Routes {
		r.Fragment = strings.TrimSpace(r.Fragment)
		r.ControllerID = strings.TrimSpace(r.ControllerID)
		if r.Fragment == "" {
			return nil, fmt.Errorf("routes config: routes[%d] missing fragment", i)
		}
		if !strings.HasPrefix(r.Fragment, "#") {
			return nil, fmt.Errorf("routes config: routes[%d] fragment %q must start with '#'", i, r.Fragment)
		}
		if r.ControllerID == "" {
			return nil, fmt.Errorf("routes config: routes[%d] (%s) missing controller", i, r.Fragment)
		}
		doc.Routes[i] = r
	}
	return doc.Routes, nil
}
