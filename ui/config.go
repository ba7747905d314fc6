package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	Nickname        string
	PollInterval    time.Duration
	GlamourMaxWidth uint
	EnableMouse     bool
	SpeechEnabled   bool

	// Backend target shown in the status bar and used by /model.
	Address string
	Model   string

	GlamourStyle string `env:"GLAMOUR_STYLE" envDefault:"auto"`

	// For debugging the UI
	GlamourEnabled bool `env:"LOCALVISION_ENABLE_GLAMOUR" envDefault:"true"`
	HistoryLimit   int  `env:"LOCALVISION_HISTORY_LIMIT" envDefault:"0"`
}
