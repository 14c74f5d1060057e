package shared

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Environment variable keys
const (
	EnvKeyAPIKey = "GEMINI_API_KEY"
	EnvKeyPort   = "PORT"
	EnvKeyConfig = "GEMINI_LIVE_CONFIG"
)

// Provider defaults
const (
	DefaultUpstreamURL    = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	DefaultConstrainedURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContentConstrained"
	DefaultModel          = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice          = "Charon"
	DefaultInstruction    = "You are a helpful assistant with access to tools. Please use the available tools to answer the user's requests when appropriate."
	DefaultMCPEndpoint    = "http://localhost:8888/mcp"
)

type Config struct {
	// APIKey is the provider secret. It is only ever read from the
	// environment, never from the config file.
	APIKey string `yaml:"-"`

	Relay  RelayConfig  `yaml:"relay"`
	Token  TokenConfig  `yaml:"token"`
	Client ClientConfig `yaml:"client"`
	MCP    MCPConfig    `yaml:"mcp"`
	Log    LogConfig    `yaml:"log"`
}

type RelayConfig struct {
	Addr             string        `yaml:"addr"`
	Path             string        `yaml:"path"`
	MetricsPath      string        `yaml:"metrics_path"`
	UpstreamURL      string        `yaml:"upstream_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

type TokenConfig struct {
	Path              string        `yaml:"path"`
	Model             string        `yaml:"model"`
	Voice             string        `yaml:"voice"`
	SystemInstruction string        `yaml:"system_instruction"`
	TTL               time.Duration `yaml:"ttl"`
	Uses              int           `yaml:"uses"`
}

type ClientConfig struct {
	// Variant is "relay" or "token".
	Variant           string        `yaml:"variant"`
	RelayURL          string        `yaml:"relay_url"`
	TokenURL          string        `yaml:"token_url"`
	ProviderURL       string        `yaml:"provider_url"`
	Model             string        `yaml:"model"`
	Voice             string        `yaml:"voice"`
	SystemInstruction string        `yaml:"system_instruction"`
	VolumeInterval    time.Duration `yaml:"volume_interval"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	// Ask the provider to transcribe the user's and the model's speech.
	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`
}

type MCPConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Relay: RelayConfig{
			Addr:             ":3000",
			Path:             "/gemini-live",
			MetricsPath:      "/metrics",
			UpstreamURL:      DefaultUpstreamURL,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			MaxMessageBytes:  4 << 20,
			ShutdownGrace:    5 * time.Second,
		},
		Token: TokenConfig{
			Path:              "/api/gemini-token",
			Model:             DefaultModel,
			Voice:             DefaultVoice,
			SystemInstruction: DefaultInstruction,
			TTL:               30 * time.Minute,
			Uses:              1,
		},
		Client: ClientConfig{
			Variant:           "relay",
			RelayURL:          "ws://localhost:3000/gemini-live",
			TokenURL:          "http://localhost:3000/api/gemini-token",
			ProviderURL:       DefaultConstrainedURL,
			Model:             "models/" + DefaultModel,
			Voice:             DefaultVoice,
			SystemInstruction: DefaultInstruction,
			VolumeInterval:    50 * time.Millisecond,

			InputTranscription:  true,
			OutputTranscription: true,
		},
		MCP: MCPConfig{
			Endpoint: DefaultMCPEndpoint,
			Timeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// LoadConfig returns the defaults overlaid with the YAML file at path (if
// any) and the environment. It is called once at startup; the result is
// treated as read-only afterwards.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	apiKey, err := Getenv(GetenvString, EnvKeyAPIKey, false, "")
	if err != nil {
		return err
	}
	c.APIKey = apiKey
	port, err := Getenv(GetenvString, EnvKeyPort, false, "")
	if err != nil {
		return err
	}
	if port != "" {
		host, _, splitErr := net.SplitHostPort(c.Relay.Addr)
		if splitErr != nil {
			host = ""
		}
		c.Relay.Addr = net.JoinHostPort(host, port)
	}
	return nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path must start with /: %q", c.Relay.Path)
	}
	if !strings.HasPrefix(c.Token.Path, "/") {
		return fmt.Errorf("token.path must start with /: %q", c.Token.Path)
	}
	switch c.Client.Variant {
	case "relay", "token":
	default:
		return fmt.Errorf("client.variant must be relay or token: %q", c.Client.Variant)
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.Token.Uses <= 0 {
		return fmt.Errorf("token.uses must be positive")
	}
	return nil
}
