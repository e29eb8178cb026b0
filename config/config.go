// Package config loads the allocation server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/warp/allocation-engine/catalog"
)

// Config captures environment driven configuration values for the allocation server.
type Config struct {
	HTTPPort       int
	DBPath         string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string

	// Catalog names used to resolve the leave task and the PTO project.
	LeaveTaskName      string
	PTOProjectCategory string
	PTOProjectName     string
}

// Catalog returns the catalog lookup service for the configured names.
func (c Config) Catalog() catalog.Named {
	return catalog.Named{
		LeaveTaskName:      c.LeaveTaskName,
		PTOProjectCategory: c.PTOProjectCategory,
		PTOProjectName:     c.PTOProjectName,
	}
}

// Load parses configuration values from the current process environment.
//
// Optional values fall back to defaults. Every invalid variable is reported
// in a single error.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:           8080,
		DBPath:             "allocation.db",
		LogLevel:           "info",
		LogFormat:          "text",
		LeaveTaskName:      catalog.DefaultLeaveTaskName,
		PTOProjectCategory: catalog.DefaultPTOProjectCategory,
		PTOProjectName:     catalog.DefaultPTOProjectName,
	}

	invalid := make([]string, 0, 2)

	if portValue := env("ALLOC_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "ALLOC_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if path := env("ALLOC_DB_PATH"); path != "" {
		cfg.DBPath = path
	}

	if level := strings.ToLower(env("ALLOC_LOG_LEVEL")); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			invalid = append(invalid, "ALLOC_LOG_LEVEL")
		}
	}

	if format := strings.ToLower(env("ALLOC_LOG_FORMAT")); format != "" {
		switch format {
		case "text", "json":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, "ALLOC_LOG_FORMAT")
		}
	}

	if origins := env("ALLOC_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if name := env("ALLOC_LEAVE_TASK_NAME"); name != "" {
		cfg.LeaveTaskName = name
	}
	if category := env("ALLOC_PTO_PROJECT_CATEGORY"); category != "" {
		cfg.PTOProjectCategory = category
	}
	if name := env("ALLOC_PTO_PROJECT_NAME"); name != "" {
		cfg.PTOProjectName = name
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
