// Package config is the typed view of the localvision settings held by
// viper.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/localvision/localvision/internal/inference"
)

// Config contains every localvision setting.
type Config struct {
	Backend   BackendConfig   `yaml:"backend" mapstructure:"backend"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	TTS       TTSConfig       `yaml:"tts" mapstructure:"tts"`
	Bot       BotConfig       `yaml:"bot" mapstructure:"bot"`
	Serve     ServeConfig     `yaml:"serve" mapstructure:"serve"`
	UI        UIConfig        `yaml:"ui" mapstructure:"ui"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Debug     bool            `yaml:"debug" mapstructure:"debug"`
}

// BackendConfig locates the OpenAI-compatible server.
type BackendConfig struct {
	Address   string          `yaml:"address" mapstructure:"address"`
	Model     string          `yaml:"model" mapstructure:"model"`
	APIKey    string          `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout   time.Duration   `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens MaxTokensConfig `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MaxTokensConfig holds completion budgets per request kind.
type MaxTokensConfig struct {
	Text  int `yaml:"text" mapstructure:"text"`
	Image int `yaml:"image" mapstructure:"image"`
}

// InferenceConfig tunes retries.
type InferenceConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	TransientErrors []string      `yaml:"transient_errors" mapstructure:"transient_errors"`
	ImagePrompt     string        `yaml:"image_prompt" mapstructure:"image_prompt"`
}

// TTSConfig selects and tunes the speech engine.
type TTSConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Engine  string        `yaml:"engine" mapstructure:"engine"`
	Rate    int           `yaml:"rate" mapstructure:"rate"`
	Command CommandConfig `yaml:"command" mapstructure:"command"`
	Piper   PiperConfig   `yaml:"piper" mapstructure:"piper"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
}

// CommandConfig configures the subprocess engine.
type CommandConfig struct {
	Binary string   `yaml:"binary" mapstructure:"binary"`
	Args   []string `yaml:"args,omitempty" mapstructure:"args"`
}

// PiperConfig configures the Piper engine.
type PiperConfig struct {
	Binary     string `yaml:"binary" mapstructure:"binary"`
	Model      string `yaml:"model" mapstructure:"model"`
	SampleRate int    `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// CacheConfig configures the synthesis cache.
type CacheConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	MaxSize int    `yaml:"max_size" mapstructure:"max_size"` // MB
}

// BotConfig rate limits the bot bridge.
type BotConfig struct {
	Rate  float64 `yaml:"rate" mapstructure:"rate"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// UIConfig configures the chat TUI.
type UIConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Nickname     string        `yaml:"nickname" mapstructure:"nickname"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Engine names.
const (
	EngineCommand = "command"
	EnginePiper   = "piper"
	EngineMock    = "mock"
)

var (
	validEngines     = []string{EngineCommand, EnginePiper, EngineMock}
	validSampleRates = []int{16000, 22050, 24000, 44100, 48000}
)

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Address: "http://localhost:1234/v1",
			Model:   inference.DefaultModel,
			Timeout: 120 * time.Second,
			MaxTokens: MaxTokensConfig{
				Text:  inference.DefaultTextMaxTokens,
				Image: inference.DefaultImageMaxTokens,
			},
		},
		Inference: InferenceConfig{
			MaxAttempts:     inference.DefaultMaxAttempts,
			BaseDelay:       inference.DefaultBaseDelay,
			TransientErrors: slices.Clone(inference.DefaultTransientErrors),
			ImagePrompt:     inference.DefaultImagePrompt,
		},
		TTS: TTSConfig{
			Enabled: true,
			Engine:  EngineCommand,
			Rate:    170,
			Command: CommandConfig{Binary: "espeak-ng"},
			Piper:   PiperConfig{Binary: "piper", SampleRate: 22050},
			Cache:   CacheConfig{MaxSize: 100},
		},
		Bot:   BotConfig{Rate: 1, Burst: 3},
		Serve: ServeConfig{Addr: "127.0.0.1:8089"},
		UI:    UIConfig{PollInterval: 100 * time.Millisecond, Nickname: "You"},
		Log:   LogConfig{Level: "info"},
	}
}

// Validate checks the configuration and normalizes case-insensitive values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend address must be an http(s) URL, got %q", c.Backend.Address)
	}
	if strings.TrimSpace(c.Backend.Model) == "" {
		return fmt.Errorf("backend model cannot be empty")
	}
	if c.Backend.Timeout < time.Second {
		return fmt.Errorf("backend timeout must be at least 1 second, got %v", c.Backend.Timeout)
	}
	if c.Backend.MaxTokens.Text < 1 || c.Backend.MaxTokens.Image < 1 {
		return fmt.Errorf("max_tokens must be positive, got text=%d image=%d",
			c.Backend.MaxTokens.Text, c.Backend.MaxTokens.Image)
	}

	if c.Inference.MaxAttempts < 1 || c.Inference.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts must be between 1 and 10, got %d", c.Inference.MaxAttempts)
	}
	if c.Inference.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative, got %v", c.Inference.BaseDelay)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts: %w", err)
	}

	if c.Bot.Rate <= 0 || c.Bot.Burst < 1 {
		return fmt.Errorf("bot rate and burst must be positive, got rate=%v burst=%d", c.Bot.Rate, c.Bot.Burst)
	}
	if c.UI.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("ui poll_interval must be at least 10ms, got %v", c.UI.PollInterval)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Validate checks the speech settings.
func (c *TTSConfig) Validate() error {
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if !slices.Contains(validEngines, c.Engine) {
		return fmt.Errorf("invalid engine %q: must be one of %v", c.Engine, validEngines)
	}
	if c.Rate < 50 || c.Rate > 500 {
		return fmt.Errorf("rate must be between 50 and 500 words per minute, got %d", c.Rate)
	}
	if c.Cache.MaxSize < 1 || c.Cache.MaxSize > 10000 {
		return fmt.Errorf("cache max_size must be between 1 and 10000 MB, got %d", c.Cache.MaxSize)
	}

	switch c.Engine {
	case EngineCommand:
		if c.Command.Binary == "" {
			return fmt.Errorf("command binary cannot be empty")
		}
	case EnginePiper:
		if c.Piper.Binary == "" {
			return fmt.Errorf("piper binary cannot be empty")
		}
		if !slices.Contains(validSampleRates, c.Piper.SampleRate) {
			return fmt.Errorf("invalid piper sample rate %d: must be one of %v", c.Piper.SampleRate, validSampleRates)
		}
	}
	return nil
}

// DispatcherConfig converts the settings for inference.NewDispatcher.
func (c Config) DispatcherConfig() inference.Config {
	cfg := inference.DefaultConfig()
	cfg.TextMaxTokens = c.Backend.MaxTokens.Text
	cfg.ImageMaxTokens = c.Backend.MaxTokens.Image
	if c.Inference.ImagePrompt != "" {
		cfg.ImagePrompt = c.Inference.ImagePrompt
	}
	cfg.Policy = inference.Policy{
		MaxAttempts: c.Inference.MaxAttempts,
		BaseDelay:   c.Inference.BaseDelay,
		Classifier:  inference.NewClassifier(c.Inference.TransientErrors...),
	}
	return cfg
}

// CacheBytes is the synthesis cache cap in bytes.
func (c TTSConfig) CacheBytes() int64 {
	return int64(c.Cache.MaxSize) << 20
}
