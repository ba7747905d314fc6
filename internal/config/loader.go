package config

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// SetDefaults registers every default in v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("backend.address", d.Backend.Address)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.api_key", d.Backend.APIKey)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.max_tokens.text", d.Backend.MaxTokens.Text)
	v.SetDefault("backend.max_tokens.image", d.Backend.MaxTokens.Image)

	v.SetDefault("inference.max_attempts", d.Inference.MaxAttempts)
	v.SetDefault("inference.base_delay", d.Inference.BaseDelay)
	v.SetDefault("inference.transient_errors", d.Inference.TransientErrors)
	v.SetDefault("inference.image_prompt", d.Inference.ImagePrompt)

	v.SetDefault("tts.enabled", d.TTS.Enabled)
	v.SetDefault("tts.engine", d.TTS.Engine)
	v.SetDefault("tts.rate", d.TTS.Rate)
	v.SetDefault("tts.command.binary", d.TTS.Command.Binary)
	v.SetDefault("tts.command.args", d.TTS.Command.Args)
	v.SetDefault("tts.piper.binary", d.TTS.Piper.Binary)
	v.SetDefault("tts.piper.model", d.TTS.Piper.Model)
	v.SetDefault("tts.piper.sample_rate", d.TTS.Piper.SampleRate)
	v.SetDefault("tts.cache.dir", d.TTS.Cache.Dir)
	v.SetDefault("tts.cache.max_size", d.TTS.Cache.MaxSize)

	v.SetDefault("bot.rate", d.Bot.Rate)
	v.SetDefault("bot.burst", d.Bot.Burst)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("ui.poll_interval", d.UI.PollInterval)
	v.SetDefault("ui.nickname", d.UI.Nickname)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("debug", d.Debug)
}

// Load decodes v into a validated Config with ~ expanded in paths.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}

	for _, p := range []*string{&cfg.TTS.Cache.Dir, &cfg.TTS.Piper.Model, &cfg.TTS.Command.Binary, &cfg.TTS.Piper.Binary} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return cfg, fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

const defaultHeader = `# localvision configuration.
# Every key can also be set with a LOCALVISION_ environment variable,
# e.g. LOCALVISION_BACKEND_ADDRESS.

`

// DefaultYAML renders the default configuration file.
func DefaultYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(defaultHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultConfig()); err != nil {
		return nil, fmt.Errorf("rendering default configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Watch reloads the configuration whenever the file behind v changes and
// passes every valid result to apply. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, logger *log.Logger, apply func(Config)) {
	var mu sync.Mutex
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		cfg, err := Load(v)
		if err != nil {
			logger.Warn("Ignoring configuration change", "file", e.Name, "err", err)
			return
		}
		logger.Info("Configuration reloaded", "file", e.Name)
		apply(cfg)
	})
	v.WatchConfig()
}
