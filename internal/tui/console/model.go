// ============================================================================
// telshell - Line-oriented command shell server
// ============================================================================
//
// Package:     console
// Description: Bubbletea terminal client for telshell endpoints
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

// Package console is an interactive terminal client for a telshell server.
// Server output scrolls in a viewport; commands are typed into a single
// line input with history.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxScrollback = 2000

// Config holds console configuration
type Config struct {
	Network     string // "tcp" or "websocket"
	Address     string
	Path        string // websocket path
	DialTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Network:     "tcp",
		Address:     "localhost:2323",
		Path:        "/shell",
		DialTimeout: 5 * time.Second,
	}
}

// DialFunc opens a session; replaced in tests
type DialFunc func(ctx context.Context, cfg Config) (Session, error)

func defaultDial(ctx context.Context, cfg Config) (Session, error) {
	return Dial(ctx, cfg.Network, cfg.Address, cfg.Path)
}

// Model is the Bubbletea model of the console
type Model struct {
	cfg  Config
	dial DialFunc

	width      int
	height     int
	ready      bool
	connecting bool
	session    Session
	err        error

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	scrollback string
	lines      int

	history      []string
	historyIndex int
}

// New creates a console model
func New(cfg Config) Model {
	return NewWithDialer(cfg, defaultDial)
}

// NewWithDialer creates a console model with a custom dialer
func NewWithDialer(cfg Config, dial DialFunc) Model {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}

	ti := textinput.New()
	ti.Placeholder = "command"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	return Model{
		cfg:          cfg,
		dial:         dial,
		connecting:   true,
		input:        ti,
		spinner:      sp,
		historyIndex: -1,
	}
}

// Init starts the connection
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.connect)
}

func (m Model) connect() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	defer cancel()

	sess, err := m.dial(ctx, m.cfg)
	if err != nil {
		return disconnectedMsg{err: err}
	}
	return connectedMsg{session: sess}
}

func waitForOutput(sess Session) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-sess.Output()
		if !ok {
			return disconnectedMsg{err: sess.Err()}
		}
		return outputMsg{text: text}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		footerHeight := 6
		viewportHeight := msg.Height - headerHeight - footerHeight
		if viewportHeight < 3 {
			viewportHeight = 3
		}

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = viewportHeight
		}
		m.input.Width = msg.Width - 8
		m.refreshViewport()

	case spinner.TickMsg:
		if m.connecting {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case connectedMsg:
		m.connecting = false
		m.session = msg.session
		m.err = nil
		cmds = append(cmds, waitForOutput(msg.session))

	case outputMsg:
		m.appendOutput(msg.text)
		if m.session != nil {
			cmds = append(cmds, waitForOutput(m.session))
		}

	case disconnectedMsg:
		m.connecting = false
		m.err = msg.err
		if m.session != nil {
			m.session.Close()
			m.session = nil
		}
		m.appendOutput("\n[connection closed]\n")
	}

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		if m.session != nil {
			m.session.Close()
		}
		return m, tea.Quit

	case tea.KeyEnter:
		line := m.input.Value()
		m.input.SetValue("")
		m.historyIndex = -1
		if strings.TrimSpace(line) != "" {
			m.history = append(m.history, line)
		}
		if m.session == nil {
			if !m.connecting {
				m.connecting = true
				return m, tea.Batch(m.spinner.Tick, m.connect)
			}
			return m, nil
		}
		// echo like a terminal would
		m.appendOutput(line + "\n")
		if err := m.session.Send(line); err != nil {
			m.err = err
		}
		return m, nil

	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		if m.historyIndex == -1 {
			m.historyIndex = len(m.history) - 1
		} else if m.historyIndex > 0 {
			m.historyIndex--
		}
		m.input.SetValue(m.history[m.historyIndex])
		m.input.CursorEnd()
		return m, nil

	case tea.KeyDown:
		if m.historyIndex == -1 {
			return m, nil
		}
		m.historyIndex++
		if m.historyIndex >= len(m.history) {
			m.historyIndex = -1
			m.input.SetValue("")
		} else {
			m.input.SetValue(m.history[m.historyIndex])
		}
		m.input.CursorEnd()
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) appendOutput(text string) {
	text = strings.ReplaceAll(text, "\r", "")
	m.scrollback += text
	m.lines += strings.Count(text, "\n")

	if m.lines > maxScrollback {
		all := strings.Split(m.scrollback, "\n")
		m.scrollback = strings.Join(all[len(all)-maxScrollback-1:], "\n")
		m.lines = maxScrollback
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.scrollback)
	m.viewport.GotoBottom()
}

// Scrollback returns the server output received so far
func (m Model) Scrollback() string {
	return m.scrollback
}

// View renders the console
func (m Model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(TerminalStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(InputStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())
	return b.String()
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("telshell console")
	addr := AddressStyle.Render(fmt.Sprintf("%s://%s", m.cfg.Network, m.cfg.Address))

	var status string
	switch {
	case m.connecting:
		status = StatusPendingStyle.Render(m.spinner.View() + " connecting")
	case m.session != nil:
		status = StatusOnlineStyle.Render("● connected")
	default:
		status = StatusOfflineStyle.Render("○ disconnected")
	}

	header := title + "  " + addr + "  " + status
	if m.err != nil {
		header += "  " + ErrorStyle.Render(m.err.Error())
	}
	return header
}

func (m Model) renderHelpBar() string {
	hints := []string{
		RenderKeyHint("enter", "send"),
		RenderKeyHint("↑/↓", "history"),
		RenderKeyHint("pgup/pgdn", "scroll"),
		RenderKeyHint("esc", "quit"),
	}
	if m.session == nil && !m.connecting {
		hints[0] = RenderKeyHint("enter", "reconnect")
	}
	return strings.Join(hints, "  ")
}

// Run starts the console TUI
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
