package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/novinai/novin-bridge/bridge"
	"github.com/novinai/novin-bridge/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	requestStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	diagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historySize = 8

// diagnostics collects interpreter output while the TUI owns the terminal.
type diagnostics struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (d *diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

// drain returns and clears everything written so far.
func (d *diagnostics) drain() string {
	if d == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.buf.String()
	d.buf.Reset()
	return s
}

type exchange struct {
	err     error
	request string
	result  string
	diag    string
	elapsed time.Duration
}

type interactiveModel struct {
	ctx     context.Context
	bridge  *bridge.Bridge
	cfg     *config.Config
	diag    *diagnostics
	input   textinput.Model
	status  bridge.Status
	history []exchange
	pending bool
}

type callResultMsg exchange

func newInteractiveModel(ctx context.Context, b *bridge.Bridge, cfg *config.Config, diag *diagnostics) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = `{"message": "hello"}`
	ti.Prompt = "request: "
	ti.Width = 60
	ti.CharLimit = 0
	ti.Focus()

	return &interactiveModel{
		ctx:    ctx,
		bridge: b,
		cfg:    cfg,
		diag:   diag,
		input:  ti,
		status: b.Status(),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			payload := strings.TrimSpace(m.input.Value())
			if payload == "" || m.pending {
				return m, nil
			}
			m.pending = true
			m.input.Reset()
			return m, m.send(payload)

		case "ctrl+l":
			m.history = nil
			return m, nil
		}

	case callResultMsg:
		m.pending = false
		m.status = m.bridge.Status()
		m.history = append(m.history, exchange(msg))
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) send(payload string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		result, err := process(m.ctx, m.bridge, m.cfg, payload)
		return callResultMsg{
			err:     err,
			request: payload,
			result:  result,
			diag:    strings.TrimRight(m.diag.drain(), "\n"),
			elapsed: time.Since(start),
		}
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	st := m.status
	b.WriteString(titleStyle.Render("Novin Bridge"))
	b.WriteString(" ")
	b.WriteString(labelStyle.Render(fmt.Sprintf("engine=%s state=%s instance=%s", st.Engine, st.State, st.Instance)))
	b.WriteString("\n\n")

	for _, ex := range m.history {
		b.WriteString(requestStyle.Render("> " + ex.request))
		b.WriteString("\n")
		if ex.diag != "" {
			b.WriteString(diagStyle.Render(ex.diag))
			b.WriteString("\n")
		}
		if ex.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", ex.err)))
		} else {
			b.WriteString(resultStyle.Render(ex.result))
		}
		b.WriteString(helpStyle.Render(fmt.Sprintf("  (%s)", ex.elapsed.Round(time.Microsecond))))
		b.WriteString("\n\n")
	}

	if m.pending {
		b.WriteString("processing...\n")
	} else {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • ctrl+l clear • esc quit"))

	return b.String()
}

func runInteractive(ctx context.Context, b *bridge.Bridge, cfg *config.Config, diag *diagnostics) error {
	p := tea.NewProgram(newInteractiveModel(ctx, b, cfg, diag), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
