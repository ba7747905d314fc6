// Package main provides the entry point for the localvision CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/localvision/localvision/internal/config"
	"github.com/localvision/localvision/ui"
)

const appName = "localvision"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	cfg               config.Config

	// LOCALVISION_BACKEND_ADDRESS sets backend.address.
	envKeyReplacer = strings.NewReplacer(".", "_")

	rootCmd = &cobra.Command{
		Use:   appName,
		Short: "Chat with a local vision model, out loud",
		Long: paragraph(
			fmt.Sprintf("\nChat with a local vision model and %s.", keyword("hear the answers")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
		RunE: runTUI,
	}
)

// loadConfig reads the file named by --config, if any, and decodes the
// merged settings into cfg.
func loadConfig() error {
	if configFile != "" && configFile != viper.ConfigFileUsed() {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = c
	setLogLevel(cfg.Log.Level, cfg.Debug)
	log.Debug("Configuration loaded", "file", viper.ConfigFileUsed(), "engine", cfg.TTS.Engine)
	return nil
}

func runTUI(*cobra.Command, []string) error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	a, err := newApp(cfg, appOptions{speech: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	a.connect(ctx)
	cancel()
	a.watchConfig()

	uiCfg.Nickname = cfg.UI.Nickname
	uiCfg.PollInterval = cfg.UI.PollInterval
	uiCfg.SpeechEnabled = cfg.TTS.Enabled
	uiCfg.Address = cfg.Backend.Address
	uiCfg.Model = cfg.Backend.Model
	if h := a.supervisor.Current(); h != nil {
		uiCfg.Address, uiCfg.Model = h.Address, h.Model
	}

	deps := ui.Deps{
		Dispatcher:   a.dispatcher,
		Connector:    a.supervisor,
		Speaker:      a.speech,
		Conversation: a.history,
	}
	if _, err := ui.NewProgram(uiCfg, deps).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	config.SetDefaults(viper.GetViper())
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	flags.Bool("debug", false, "log at debug level")
	flags.StringP("address", "a", "", "backend address (OpenAI-compatible /v1 URL)")
	flags.StringP("model", "m", "", "model to use (local-model picks the first loaded one)")
	flags.Bool("tts", true, "read replies aloud")
	flags.StringP("engine", "e", "", "speech engine (command, piper or mock)")
	flags.Int("rate", 0, "speaking rate in words per minute")

	// Config bindings
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("backend.address", flags.Lookup("address"))
	_ = viper.BindPFlag("backend.model", flags.Lookup("model"))
	_ = viper.BindPFlag("tts.enabled", flags.Lookup("tts"))
	_ = viper.BindPFlag("tts.engine", flags.Lookup("engine"))
	_ = viper.BindPFlag("tts.rate", flags.Lookup("rate"))

	rootCmd.AddCommand(configCmd, manCmd, askCmd, describeCmd, modelsCmd, sayCmd, serveCmd, botCmd)
}

func defaultConfigPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("LOCALVISION_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], appName+".yml")
	if err := ensureConfigFile(defaultConfigFile); err != nil {
		log.Error("Could not create default configuration", "error", err)
		return
	}
	viper.SetConfigFile(defaultConfigFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Warn("Could not read default configuration", "err", err)
	}
}
