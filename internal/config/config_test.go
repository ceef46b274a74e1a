package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allEnvKeys = []string{
	"ANTHROPIC_API_KEY",
	"HOST",
	"PORT",
	"OUTPUT_DIR",
	"AGENT_RUNTIME",
	"CLAUDE_BIN",
	"AGENT_MODEL",
	"DEFAULT_MAX_TURNS",
	"HEARTBEAT_INTERVAL",
	"POLL_INTERVAL",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"CHROME_BIN",
	"MARKET_RESEARCH_HOME",
}

func unsetAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		if value, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, value) })
			_ = os.Unsetenv(key)
		}
	}
}

func TestLoad_AllDefaults(t *testing.T) {
	unsetAllEnv(t)

	cfg, err := load(nil)
	require.NoError(t, err)

	if cfg.Host != "0.0.0.0" {
		t.Fatalf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8000 {
		t.Fatalf("Port = %d, want %d", cfg.Port, 8000)
	}
	if cfg.OutputDir != "./output" {
		t.Fatalf("OutputDir = %q, want %q", cfg.OutputDir, "./output")
	}
	if cfg.AgentRuntime != RuntimeClaudeCLI {
		t.Fatalf("AgentRuntime = %q, want %q", cfg.AgentRuntime, RuntimeClaudeCLI)
	}
	if cfg.ClaudeBin != "claude" {
		t.Fatalf("ClaudeBin = %q, want %q", cfg.ClaudeBin, "claude")
	}
	if cfg.DefaultMaxTurns != 50 {
		t.Fatalf("DefaultMaxTurns = %d, want %d", cfg.DefaultMaxTurns, 50)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("HeartbeatInterval = %s, want 10s", cfg.HeartbeatInterval)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("PollInterval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Fatalf("logging = %q/%q, want info/console", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AnthropicAPIKey != "" || cfg.AgentModel != "" || cfg.ChromeBin != "" {
		t.Fatalf("expected empty optional values, got %+v", cfg)
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	unsetAllEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", " sk-env ")
	t.Setenv("PORT", "9090")
	t.Setenv("AGENT_RUNTIME", "Anthropic")
	t.Setenv("DEFAULT_MAX_TURNS", "75")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := load(nil)
	require.NoError(t, err)
	require.Equal(t, "sk-env", cfg.AnthropicAPIKey)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, RuntimeAnthropic, cfg.AgentRuntime)
	require.Equal(t, 75, cfg.DefaultMaxTurns)
	require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}

func TestLoad_DotEnvFileAndPrecedence(t *testing.T) {
	unsetAllEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ANTHROPIC_API_KEY=sk-file\nOUTPUT_DIR=/tmp/reports\nPORT=7000\n"), 0o600))
	t.Setenv("PORT", "7100")

	cfg, err := load([]string{filepath.Join(dir, "missing.env"), path})
	require.NoError(t, err)
	require.Equal(t, "sk-file", cfg.AnthropicAPIKey)
	require.Equal(t, "/tmp/reports", cfg.OutputDir)
	require.Equal(t, 7100, cfg.Port)
}

func TestLoad_FirstCandidateWins(t *testing.T) {
	unsetAllEnv(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	require.NoError(t, os.WriteFile(first, []byte("AGENT_MODEL=first\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("AGENT_MODEL=second\n"), 0o600))

	cfg, err := load([]string{first, second})
	require.NoError(t, err)
	require.Equal(t, "first", cfg.AgentModel)
}

func TestEnvCandidates(t *testing.T) {
	unsetAllEnv(t)
	require.Equal(t, []string{".env"}, envCandidates())

	t.Setenv("MARKET_RESEARCH_HOME", "/opt/market-research")
	require.Equal(t, []string{".env", filepath.Join("/opt/market-research", ".env")}, envCandidates())
}

func TestValidate(t *testing.T) {
	valid := Config{
		AnthropicAPIKey:   "sk",
		AgentRuntime:      RuntimeClaudeCLI,
		Port:              8000,
		HeartbeatInterval: time.Second,
		PollInterval:      time.Second,
	}
	require.NoError(t, Validate(valid))

	cases := map[string]func(c *Config){
		"ANTHROPIC_API_KEY": func(c *Config) { c.AnthropicAPIKey = "" },
		"AGENT_RUNTIME":     func(c *Config) { c.AgentRuntime = "openai" },
		"PORT":              func(c *Config) { c.Port = 0 },
		"POLL_INTERVAL":     func(c *Config) { c.PollInterval = 0 },
	}
	for key, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		err := Validate(cfg)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr, key)
		require.Equal(t, key, cfgErr.Key)
	}
}

func TestValidate_MissingKeyGuidance(t *testing.T) {
	err := Validate(Config{AgentRuntime: RuntimeClaudeCLI, Port: 8000})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ANTHROPIC_API_KEY not found")
	require.Contains(t, err.Error(), "export ANTHROPIC_API_KEY")
}
