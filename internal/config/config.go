package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Addr        string `koanf:"addr"`
		AuthSecret  string `koanf:"auth_secret"`
		LogLevel    string `koanf:"log_level"`
		PrettyLogs  bool   `koanf:"pretty_logs"`
		WorkerQueue int    `koanf:"worker_queue"`
	} `koanf:"server"`

	AI struct {
		Provider    string  `koanf:"provider"`
		APIKey      string  `koanf:"api_key"`
		Model       string  `koanf:"model"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		// ConfidenceThreshold below which classification resolves to the gate.
		ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	} `koanf:"ai"`

	Tickets struct {
		BaseURL    string `koanf:"base_url"`
		Token      string `koanf:"token"`
		ProjectKey string `koanf:"project_key"`
	} `koanf:"tickets"`

	Events struct {
		TTLHours int `koanf:"ttl_hours"`
	} `koanf:"events"`

	Facts struct {
		ThreadBudget  int `koanf:"thread_budget"`
		EpicBudget    int `koanf:"epic_budget"`
		ChannelBudget int `koanf:"channel_budget"`
	} `koanf:"facts"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.addr":            ":8088",
		"server.log_level":       "info",
		"server.worker_queue":    64,
		"ai.provider":            "openai",
		"ai.model":               "gpt-4o-mini",
		"ai.temperature":         0.2,
		"ai.confidence_threshold": 0.65,
		"events.ttl_hours":       24,
		"facts.thread_budget":    64,
		"facts.epic_budget":      128,
		"facts.channel_budget":   256,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./threadscribe.toml", "$HOME/.threadscribe.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix THREADSCRIBE_
	k.Load(env.Provider("THREADSCRIBE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "THREADSCRIBE_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# ThreadScribe Configuration

[server]
addr = ":8088"
auth_secret = "change-me"
log_level = "info"

[ai]
provider = "openai"
api_key = "your-api-key"
model = "gpt-4o-mini"
temperature = 0.2

[tickets]
base_url = "https://jira.example.com"
token = "your-api-token"
project_key = "PROJ"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Server.AuthSecret == "" {
		return fmt.Errorf("server auth_secret is required")
	}

	if config.AI.Provider == "" {
		return fmt.Errorf("ai provider is required")
	}
	if config.AI.Provider != "ollama" && config.AI.APIKey == "" {
		return fmt.Errorf("ai api_key is required for provider %s", config.AI.Provider)
	}

	if config.Tickets.BaseURL == "" {
		return fmt.Errorf("tickets base_url is required")
	}
	if config.Tickets.ProjectKey == "" {
		return fmt.Errorf("tickets project_key is required")
	}

	return nil
}
