package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

const (
	statusBarHeight = 1
	inputHeight     = 1
)

// renderer wraps a glamour renderer rebuilt whenever the width changes.
type renderer struct {
	style   string
	enabled bool
	width   int
	term    *glamour.TermRenderer
}

func newRenderer(style string, enabled bool) *renderer {
	return &renderer{style: style, enabled: enabled}
}

func (r *renderer) setWidth(w int) {
	if w == r.width && r.term != nil {
		return
	}
	r.width = w
	r.term = nil
	if !r.enabled {
		return
	}

	tr, err := glamour.NewTermRenderer(
		glamour.WithStylePath(r.style),
		glamour.WithWordWrap(w),
	)
	if err != nil {
		log.Error("error creating glamour renderer", "error", err)
		return
	}
	r.term = tr
}

// markdown renders md, falling back to plain wrapped text.
func (r *renderer) markdown(md string) string {
	if r.term != nil {
		out, err := r.term.Render(md)
		if err == nil {
			return strings.Trim(out, "\n")
		}
		log.Debug("error rendering markdown", "error", err)
	}
	return wrap(md, r.width)
}

func wrap(s string, w int) string {
	if w <= 0 {
		return s
	}
	return wordwrap.String(s, w)
}

// refresh re-renders the transcript into the viewport.
func (m *model) refresh() {
	if m.width == 0 {
		return
	}
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0

	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderEntry(e))
	}
	m.viewport.SetContent(b.String())

	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) renderEntry(e entry) string {
	w := m.wrapWidth()
	stamp := timestampStyle(e.at.Format("15:04"))

	switch e.kind {
	case entryUser:
		return header(userNameStyle(m.cfg.Nickname), stamp) + "\n" + indent.String(wrap(e.text, w-2), 2)
	case entryImage:
		return header(userNameStyle(m.cfg.Nickname), stamp) + "\n" + indent.String(noticeStyle("[image] "+e.text), 2)
	case entryAssistant:
		return header(botNameStyle(m.modelName()), stamp) + "\n" + m.renderer.markdown(e.raw)
	case entryError:
		return errorStyle(wrap(e.text, w))
	default:
		return noticeStyle(wrap(e.text, w))
	}
}

func header(name, stamp string) string {
	return name + " " + stamp
}

func (m model) modelName() string {
	if m.deps.Connector != nil {
		if h := m.deps.Connector.Current(); h != nil {
			return h.Model
		}
	}
	if m.cfg.Model != "" {
		return m.cfg.Model
	}
	return "assistant"
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing" + ellipsis
	}

	var b strings.Builder
	if m.showHelp {
		b.WriteString(m.helpView())
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(m.statusBarView())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) statusBarView() string {
	var left string
	switch {
	case m.statusMessage != "":
		left = statusBarMessageStyle.Render(" " + m.statusMessage + " ")
	case len(m.pending) > 0:
		oldest := m.pending[0].started
		left = statusBarStyle.Render(fmt.Sprintf(" %s thinking (%d pending, since %s) ",
			m.spinner.View(), len(m.pending), humanize.Time(oldest)))
	default:
		left = statusBarStyle.Render(" " + m.connectionLabel() + " ")
	}

	var right string
	if m.deps.Speaker != nil && m.deps.Speaker.Enabled() {
		right = speechOnStyle.Render(" ♪ speech ")
	} else {
		right = statusBarStyle.Render(" speech off ")
	}

	room := m.width - ansi.PrintableRuneWidth(right)
	if ansi.PrintableRuneWidth(left) > room {
		left = truncate.StringWithTail(left, uint(max(0, room)), ellipsis) //nolint:gosec
	}
	gap := max(0, m.width-ansi.PrintableRuneWidth(left)-ansi.PrintableRuneWidth(right))
	return left + statusBarStyle.Render(strings.Repeat(" ", gap)) + right
}

func (m model) connectionLabel() string {
	if m.deps.Connector != nil {
		if h := m.deps.Connector.Current(); h != nil {
			return h.Model + " @ " + h.Address
		}
	}
	return "not connected (" + m.cfg.Address + ")"
}

func (m model) helpView() string {
	lines := []string{
		"",
		"enter          send message",
		"/image <path>  describe an image (.png, .jpg, .jpeg)",
		"/model <id>    switch model",
		"/models        list available models",
		"/tts on|off    toggle speech",
		"/clear         forget the conversation",
		"/help          toggle this help",
		"",
		"ctrl+s         stop speaking",
		"ctrl+t         toggle speech",
		"ctrl+y         copy last reply",
		"pgup/pgdown    scroll",
		"esc/ctrl+c     quit",
	}

	// Fill up empty cells with spaces so the help covers the transcript.
	height := max(0, m.height-statusBarHeight-inputHeight)
	for len(lines) < height {
		lines = append(lines, "")
	}
	for i := range lines {
		lines[i] = "  " + lines[i]
		if m.width > 0 {
			lines[i] += strings.Repeat(" ", max(m.width-runewidth.StringWidth(lines[i]), 0))
		}
	}
	return helpViewStyle(strings.Join(lines[:max(height, 1)], "\n"))
}
