package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/muesli/termenv"

	"github.com/localvision/localvision/internal/inference"
)

const connectTimeout = 30 * time.Second

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

// handleInput interprets one line typed by the user.
func (m *model) handleInput(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return m.sendText(line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/image", "/img":
		return m.sendImage(arg)
	case "/model":
		return m.switchModel(arg)
	case "/models":
		return m.listModels()
	case "/clear":
		m.entries = nil
		m.deps.Conversation.Clear()
		return m.showStatusMessage("Conversation cleared")
	case "/tts", "/speech":
		return m.setSpeech(arg)
	case "/help", "/?":
		m.showHelp = !m.showHelp
		return nil
	default:
		m.addEntry(entry{kind: entryNotice, text: fmt.Sprintf("Unknown command %s. Try /help.", name)})
		return nil
	}
}

func (m *model) sendText(text string) tea.Cmd {
	// The request carries the history as it was before this message.
	prior := m.deps.Conversation.Snapshot()
	m.deps.Conversation.Append(inference.Interaction{
		Actor:   inference.ActorUser,
		Kind:    inference.KindText,
		Content: text,
	})
	m.addEntry(entry{kind: entryUser, text: text})

	ch := inference.NewResultChannel()
	id := m.deps.Dispatcher.SubmitText(text, prior, ch)
	return m.track(id, inference.EnvelopeText, ch)
}

func (m *model) sendImage(arg string) tea.Cmd {
	if arg == "" {
		m.addEntry(entry{kind: entryNotice, text: "Usage: /image <path to .png, .jpg or .jpeg>"})
		return nil
	}
	path, err := homedir.Expand(strings.Trim(arg, `"'`))
	if err != nil {
		m.addEntry(entry{kind: entryError, text: err.Error()})
		return nil
	}
	if !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
		m.addEntry(entry{kind: entryNotice, text: "Unsupported image type: " + filepath.Base(path)})
		return nil
	}

	label := filepath.Base(path)
	if info, err := os.Stat(path); err == nil {
		label = fmt.Sprintf("%s (%s)", label, humanize.Bytes(uint64(info.Size()))) //nolint:gosec
	}

	m.deps.Conversation.Append(inference.Interaction{
		Actor:     inference.ActorUser,
		Kind:      inference.KindImage,
		ImagePath: path,
	})
	m.addEntry(entry{kind: entryImage, text: label})

	ch := inference.NewResultChannel()
	id := m.deps.Dispatcher.SubmitImage(path, ch)
	return m.track(id, inference.EnvelopeDescription, ch)
}

// track starts polling ch and kicks the spinner off for the first request.
func (m *model) track(id string, kind inference.EnvelopeKind, ch *inference.ResultChannel) tea.Cmd {
	m.pending = append(m.pending, &pendingRequest{id: id, kind: kind, ch: ch, started: time.Now()})
	if len(m.pending) == 1 {
		return m.spinner.Tick
	}
	return nil
}

// collectResults polls every pending channel without blocking and reports
// whether the transcript changed.
func (m *model) collectResults() bool {
	changed := false
	remaining := m.pending[:0]

	for _, p := range m.pending {
		env, ok := p.ch.Poll()
		if !ok {
			remaining = append(remaining, p)
			continue
		}
		changed = true
		log.Debug("result received", "request", p.id, "type", env.Kind, "elapsed", time.Since(p.started))

		if env.IsError() {
			m.addEntry(entry{kind: entryError, text: env.Content})
			continue
		}
		m.deps.Conversation.Record(env)
		raw := env.Raw
		if raw == "" {
			raw = env.Content
		}
		m.addEntry(entry{kind: entryAssistant, text: env.Content, raw: raw})
		if m.deps.Speaker != nil {
			m.deps.Speaker.Speak(env.Content, true)
		}
	}

	clear(m.pending[len(remaining):])
	m.pending = remaining
	return changed
}

func (m *model) switchModel(id string) tea.Cmd {
	if m.deps.Connector == nil {
		return nil
	}
	if id == "" {
		m.addEntry(entry{kind: entryNotice, text: "Usage: /model <id>. Current model: " + m.cfg.Model})
		return nil
	}

	address := m.cfg.Address
	if h := m.deps.Connector.Current(); h != nil {
		address = h.Address
	}
	conn := m.deps.Connector
	m.addEntry(entry{kind: entryNotice, text: "Switching to " + id + ellipsis})

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		h, err := conn.Connect(ctx, address, id)
		return connectedMsg{handle: h, err: err}
	}
}

func (m *model) listModels() tea.Cmd {
	if m.deps.Connector == nil {
		return nil
	}
	h := m.deps.Connector.Current()
	if h == nil {
		m.addEntry(entry{kind: entryError, text: inference.ErrNotConnected.Error()})
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		models, err := h.Client.ListModels(ctx)
		return modelsMsg{models: models, err: err}
	}
}

func modelsEntry(msg modelsMsg) entry {
	if msg.err != nil {
		return entry{kind: entryError, text: "Could not list models: " + msg.err.Error()}
	}
	if len(msg.models) == 0 {
		return entry{kind: entryNotice, text: "No models loaded."}
	}
	var b strings.Builder
	b.WriteString("Available models:")
	for _, md := range msg.models {
		b.WriteString("\n  " + md.ID)
	}
	return entry{kind: entryNotice, text: b.String()}
}

func (m *model) setSpeech(arg string) tea.Cmd {
	if m.deps.Speaker == nil {
		return m.showStatusMessage("Speech is not available")
	}
	switch strings.ToLower(arg) {
	case "on":
		m.deps.Speaker.SetEnabled(true)
	case "off":
		m.deps.Speaker.SetEnabled(false)
	case "":
		return m.toggleSpeech()
	default:
		m.addEntry(entry{kind: entryNotice, text: "Usage: /tts on|off"})
		return nil
	}
	return m.speechStatus()
}

func (m *model) toggleSpeech() tea.Cmd {
	if m.deps.Speaker == nil {
		return m.showStatusMessage("Speech is not available")
	}
	m.deps.Speaker.SetEnabled(!m.deps.Speaker.Enabled())
	return m.speechStatus()
}

func (m *model) speechStatus() tea.Cmd {
	if m.deps.Speaker.Enabled() {
		return m.showStatusMessage("Speech on")
	}
	return m.showStatusMessage("Speech off")
}

func (m *model) copyLastReply() tea.Cmd {
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.kind != entryAssistant {
			continue
		}
		// Copy using OSC 52
		termenv.Copy(e.raw)
		// Copy using native system clipboard
		_ = clipboard.WriteAll(e.raw)
		return m.showStatusMessage("Copied reply")
	}
	return m.showStatusMessage("Nothing to copy")
}

func (m *model) addEntry(e entry) {
	if e.at.IsZero() {
		e.at = time.Now()
	}
	m.entries = append(m.entries, e)
}
