package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/services"
	"gopkg.in/yaml.v3"
)

const defaultServerURL = "http://localhost:8080"

type transportConfig interface {
	opener(logger *slog.Logger) (handlers.ChannelOpener, error)
	creator(logger *slog.Logger) (handlers.ConversationCreator, error)
}

// BaseModelConfig contains the common fields for transports that talk to a model directly.
type BaseModelConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
}

type config struct {
	LogLevel       string          `yaml:"logLevel"`
	ConversationID string          `yaml:"conversationID"`
	HTML           htmlConfig      `yaml:"html"`
	Transport      transportConfig `yaml:"transport"`
}

type htmlConfig struct {
	Path    string `yaml:"path"`
	Refresh int    `yaml:"refresh"`
}

type sseConfig struct {
	Provider     string `yaml:"provider"`
	URL          string `yaml:"url"`
	MaxEventSize int    `yaml:"maxEventSize"`
}

type ollamaConfig struct {
	BaseModelConfig `yaml:",inline"`
	Host            string `yaml:"host"`
}

type openAIConfig struct {
	BaseModelConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
	BaseURL         string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseModelConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
	Endpoint        string `yaml:"endpoint"`
	MaxTokens       int    `yaml:"maxTokens"`
}

func defaultConfig() config {
	return config{
		LogLevel:  "info",
		Transport: &sseConfig{Provider: "sse", URL: defaultServerURL},
	}
}

// defaultConfigPath returns the config file location under the user's config directory.
func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "streamchat", "config.yaml"), nil
}

// loadConfig reads the config file at path. A missing file is only an error when required is set;
// otherwise the defaults are returned.
func loadConfig(path string, required bool) (config, error) {
	cfg := defaultConfig()

	cfgFile, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		LogLevel       string         `yaml:"logLevel"`
		ConversationID string         `yaml:"conversationID"`
		HTML           htmlConfig     `yaml:"html"`
		Transport      map[string]any `yaml:"transport"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	c.ConversationID = rawConfig.ConversationID
	c.HTML = rawConfig.HTML

	if rawConfig.Transport == nil {
		return nil
	}

	provider, ok := rawConfig.Transport["provider"].(string)
	if !ok {
		return fmt.Errorf("transport provider is required")
	}

	transportRawYAML, err := yaml.Marshal(rawConfig.Transport)
	if err != nil {
		return err
	}

	var transport transportConfig
	switch provider {
	case "sse":
		transport = &sseConfig{}
	case "ollama":
		transport = &ollamaConfig{}
	case "openai":
		transport = &openAIConfig{}
	case "anthropic":
		transport = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown transport provider: %s", provider)
	}

	if err := yaml.Unmarshal(transportRawYAML, transport); err != nil {
		return err
	}

	c.Transport = transport
	return nil
}

func parseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func (s sseConfig) opener(logger *slog.Logger) (handlers.ChannelOpener, error) {
	u := s.URL
	if u == "" {
		u = defaultServerURL
	}
	return services.NewSSE(u, nil, s.MaxEventSize, logger)
}

func (s sseConfig) creator(logger *slog.Logger) (handlers.ConversationCreator, error) {
	u := s.URL
	if u == "" {
		u = defaultServerURL
	}
	return services.NewConversations(u, nil, logger)
}

func (o ollamaConfig) opener(logger *slog.Logger) (handlers.ChannelOpener, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.SystemPrompt, logger)
}

func (o ollamaConfig) creator(*slog.Logger) (handlers.ConversationCreator, error) {
	return services.LocalConversations{}, nil
}

func (o openAIConfig) opener(logger *slog.Logger) (handlers.ChannelOpener, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.SystemPrompt, logger), nil
}

func (o openAIConfig) creator(*slog.Logger) (handlers.ConversationCreator, error) {
	return services.LocalConversations{}, nil
}

func (a anthropicConfig) opener(logger *slog.Logger) (handlers.ChannelOpener, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.SystemPrompt, a.MaxTokens, logger), nil
}

func (a anthropicConfig) creator(*slog.Logger) (handlers.ConversationCreator, error) {
	return services.LocalConversations{}, nil
}
