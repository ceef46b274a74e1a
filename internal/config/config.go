package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	RuntimeClaudeCLI = "claude-cli"
	RuntimeAnthropic = "anthropic"
)

type Config struct {
	AnthropicAPIKey   string
	Host              string
	Port              int
	OutputDir         string
	AgentRuntime      string
	ClaudeBin         string
	AgentModel        string
	DefaultMaxTurns   int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	LogLevel          string
	LogFormat         string
	ChromeBin         string
}

var defaults = map[string]any{
	"ANTHROPIC_API_KEY":  "",
	"HOST":               "0.0.0.0",
	"PORT":               8000,
	"OUTPUT_DIR":         "./output",
	"AGENT_RUNTIME":      RuntimeClaudeCLI,
	"CLAUDE_BIN":         "claude",
	"AGENT_MODEL":        "",
	"DEFAULT_MAX_TURNS":  50,
	"HEARTBEAT_INTERVAL": 10 * time.Second,
	"POLL_INTERVAL":      time.Second,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "console",
	"CHROME_BIN":         "",
}

// Load reads the first .env file found in the working directory or in
// MARKET_RESEARCH_HOME, then lets environment variables override it.
func Load() (Config, error) {
	return load(envCandidates())
}

func envCandidates() []string {
	candidates := []string{".env"}
	if home := strings.TrimSpace(os.Getenv("MARKET_RESEARCH_HOME")); home != "" {
		candidates = append(candidates, filepath.Join(home, ".env"))
	}
	return candidates
}

func load(candidates []string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("stat %s: %w", candidate, err)
		}
		v.SetConfigFile(candidate)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", candidate, err)
		}
		break
	}

	return Config{
		AnthropicAPIKey:   strings.TrimSpace(v.GetString("ANTHROPIC_API_KEY")),
		Host:              v.GetString("HOST"),
		Port:              v.GetInt("PORT"),
		OutputDir:         v.GetString("OUTPUT_DIR"),
		AgentRuntime:      strings.ToLower(strings.TrimSpace(v.GetString("AGENT_RUNTIME"))),
		ClaudeBin:         v.GetString("CLAUDE_BIN"),
		AgentModel:        v.GetString("AGENT_MODEL"),
		DefaultMaxTurns:   v.GetInt("DEFAULT_MAX_TURNS"),
		HeartbeatInterval: v.GetDuration("HEARTBEAT_INTERVAL"),
		PollInterval:      v.GetDuration("POLL_INTERVAL"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogFormat:         v.GetString("LOG_FORMAT"),
		ChromeBin:         v.GetString("CHROME_BIN"),
	}, nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConfigurationError reports configuration that prevents any research run.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

const missingKeyMessage = `ANTHROPIC_API_KEY not found.
Set it in a .env file or export it:
  export ANTHROPIC_API_KEY='your-key-here'
Get a key at: https://console.anthropic.com/settings/keys`

func Validate(cfg Config) error {
	if cfg.AnthropicAPIKey == "" {
		return &ConfigurationError{Key: "ANTHROPIC_API_KEY", Message: missingKeyMessage}
	}
	switch cfg.AgentRuntime {
	case RuntimeClaudeCLI, RuntimeAnthropic:
	default:
		return &ConfigurationError{
			Key:     "AGENT_RUNTIME",
			Message: fmt.Sprintf("AGENT_RUNTIME %q is not supported (use %s or %s)", cfg.AgentRuntime, RuntimeClaudeCLI, RuntimeAnthropic),
		}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ConfigurationError{Key: "PORT", Message: fmt.Sprintf("PORT %d is out of range", cfg.Port)}
	}
	if cfg.PollInterval <= 0 || cfg.HeartbeatInterval <= 0 {
		return &ConfigurationError{Key: "POLL_INTERVAL", Message: "POLL_INTERVAL and HEARTBEAT_INTERVAL must be positive"}
	}
	return nil
}
