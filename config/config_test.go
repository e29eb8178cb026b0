package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/catalog"
)

var allVars = []string{
	"ALLOC_HTTP_PORT",
	"ALLOC_DB_PATH",
	"ALLOC_LOG_LEVEL",
	"ALLOC_LOG_FORMAT",
	"ALLOC_ALLOWED_ORIGINS",
	"ALLOC_LEAVE_TASK_NAME",
	"ALLOC_PTO_PROJECT_CATEGORY",
	"ALLOC_PTO_PROJECT_NAME",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "allocation.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, catalog.Defaults(), cfg.Catalog())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOC_HTTP_PORT", "9090")
	t.Setenv("ALLOC_DB_PATH", ":memory:")
	t.Setenv("ALLOC_LOG_LEVEL", "DEBUG")
	t.Setenv("ALLOC_LOG_FORMAT", "json")
	t.Setenv("ALLOC_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ALLOC_LEAVE_TASK_NAME", "Vacation")
	t.Setenv("ALLOC_PTO_PROJECT_CATEGORY", "leave")
	t.Setenv("ALLOC_PTO_PROJECT_NAME", "Time Off")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, catalog.Named{
		LeaveTaskName:      "Vacation",
		PTOProjectCategory: "leave",
		PTOProjectName:     "Time Off",
	}, cfg.Catalog())
}

func TestLoad_ReportsEveryInvalidVariable(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOC_HTTP_PORT", "eighty")
	t.Setenv("ALLOC_LOG_LEVEL", "loud")
	t.Setenv("ALLOC_LOG_FORMAT", "xml")

	_, err := Load()

	require.Error(t, err)
	assert.Equal(t, "invalid environment variables: ALLOC_HTTP_PORT, ALLOC_LOG_LEVEL, ALLOC_LOG_FORMAT", err.Error())
}
