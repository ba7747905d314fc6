// Package ui provides the chat TUI.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	te "github.com/muesli/termenv"

	"github.com/localvision/localvision/internal/backend"
	"github.com/localvision/localvision/internal/history"
	"github.com/localvision/localvision/internal/inference"
)

const (
	statusMessageTimeout = time.Second * 3
	defaultPollInterval  = 100 * time.Millisecond
	ellipsis             = "…"
)

// Dispatcher submits inference requests.
type Dispatcher interface {
	SubmitText(message string, history []inference.Interaction, ch *inference.ResultChannel) string
	SubmitImage(path string, ch *inference.ResultChannel) string
}

// Connector owns the backend connection.
type Connector interface {
	Connect(ctx context.Context, address, model string) (*inference.Handle, error)
	Current() *inference.Handle
}

// Speaker reads replies aloud.
type Speaker interface {
	Speak(text string, interrupt bool)
	Stop()
	SetEnabled(enabled bool)
	Enabled() bool
}

// Deps are the collaborators the chat drives.
type Deps struct {
	Dispatcher   Dispatcher
	Connector    Connector
	Speaker      Speaker
	Conversation *history.Conversation
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, deps Deps) *tea.Program {
	log.Debug("Starting localvision", "glamour", cfg.GlamourEnabled, "poll", cfg.PollInterval)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, deps), opts...)
}

type (
	pollMsg          struct{}
	statusTimeoutMsg struct{ seq int }

	connectedMsg struct {
		handle *inference.Handle
		err    error
	}

	modelsMsg struct {
		models []backend.Model
		err    error
	}
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryImage
	entryError
	entryNotice
)

// entry is one block of the transcript. Errors and notices are shown but
// are not part of the conversation sent to the model.
type entry struct {
	kind entryKind
	text string
	// raw is the markdown the model produced, rendered with glamour.
	raw string
	at  time.Time
}

type pendingRequest struct {
	id      string
	kind    inference.EnvelopeKind
	ch      *inference.ResultChannel
	started time.Time
}

type model struct {
	cfg  Config
	deps Deps

	width  int
	height int

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	entries []entry
	pending []*pendingRequest

	statusMessage string
	statusSeq     int
	showHelp      bool

	renderer *renderer
}

func newModel(cfg Config, deps Deps) model {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Nickname == "" {
		cfg.Nickname = "You"
	}
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}
	if deps.Conversation == nil {
		deps.Conversation = history.New(cfg.HistoryLimit)
	}

	ti := textinput.New()
	ti.Placeholder = "Message, /image <path>, or /help"
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return model{
		cfg:      cfg,
		deps:     deps,
		viewport: viewport.New(0, 0),
		input:    ti,
		spinner:  sp,
		renderer: newRenderer(cfg.GlamourStyle, cfg.GlamourEnabled),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.pollCmd())
}

func (m model) pollCmd() tea.Cmd {
	return tea.Tick(m.cfg.PollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			text := m.input.Value()
			m.input.Reset()
			cmd := m.handleInput(text)
			m.refresh()
			return m, cmd

		case "ctrl+s":
			if m.deps.Speaker != nil {
				m.deps.Speaker.Stop()
			}
			return m, m.showStatusMessage("Speech stopped")

		case "ctrl+t":
			return m, m.toggleSpeech()

		case "ctrl+y":
			return m, m.copyLastReply()

		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)

	case pollMsg:
		if m.collectResults() {
			m.refresh()
		}
		cmds = append(cmds, m.pollCmd())

	case spinner.TickMsg:
		if len(m.pending) == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case connectedMsg:
		if msg.err != nil {
			m.addEntry(entry{kind: entryError, text: "Could not switch model: " + msg.err.Error()})
		} else {
			m.cfg.Address, m.cfg.Model = msg.handle.Address, msg.handle.Model
			m.addEntry(entry{kind: entryNotice, text: "Using model " + msg.handle.Model})
		}
		m.refresh()

	case modelsMsg:
		m.addEntry(modelsEntry(msg))
		m.refresh()

	case statusTimeoutMsg:
		if msg.seq == m.statusSeq {
			m.statusMessage = ""
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) setSize(w, h int) {
	m.width, m.height = w, h
	m.input.Width = max(0, w-len(m.input.Prompt)-1)
	m.viewport.Width = w
	m.viewport.Height = max(0, h-statusBarHeight-inputHeight)
	m.renderer.setWidth(m.wrapWidth())
	m.refresh()
}

func (m model) wrapWidth() int {
	w := m.viewport.Width - 2
	if m.cfg.GlamourMaxWidth > 0 {
		w = min(w, int(m.cfg.GlamourMaxWidth)) //nolint:gosec
	}
	return max(w, 20)
}

func (m *model) showStatusMessage(msg string) tea.Cmd {
	m.statusMessage = msg
	m.statusSeq++
	seq := m.statusSeq
	return tea.Tick(statusMessageTimeout, func(time.Time) tea.Msg {
		return statusTimeoutMsg{seq: seq}
	})
}
