package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/config"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	opStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	pollInterval = 50 * time.Millisecond
	maxLogLines  = 8
)

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
)

type interactiveModel struct {
	err      error
	rt       *runtime.Runtime
	stdout   *capture
	stderr   *capture
	pending  map[opcore.PromiseID]string
	ops      []string
	log      []string
	inputs   []textinput.Model
	spinner  spinner.Model
	nextID   opcore.PromiseID
	selected int
	focusIdx int
	state    modelState
}

type pollMsg struct{}

// capture collects what op_print writes so it can be shown in the log
// instead of on the terminal the TUI owns.
type capture struct {
	buf    bytes.Buffer
	prefix string
	mu     sync.Mutex
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// lines drains what was written so far, one prefixed entry per line. Output
// without a trailing newline still counts as a line.
func (c *capture) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf.Len() == 0 {
		return nil
	}
	text := strings.TrimSuffix(c.buf.String(), "\n")
	c.buf.Reset()

	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, c.prefix+line)
	}
	return out
}

func newInteractiveModel(rt *runtime.Runtime, stdout, stderr *capture) *interactiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &interactiveModel{
		rt:      rt,
		stdout:  stdout,
		stderr:  stderr,
		ops:     rt.Registry().Names(),
		pending: make(map[opcore.PromiseID]string),
		spinner: sp,
		nextID:  1,
	}
}

func pollTick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollTick())
}

// Resolve records a completion in the log. Update runs on one goroutine, so
// calls and polls made from it satisfy the runtime's loop contract.
func (m *interactiveModel) Resolve(c op.Completion) error {
	name := m.pending[c.PromiseID]
	delete(m.pending, c.PromiseID)
	m.addLog(fmt.Sprintf("#%d %s -> %s", c.PromiseID, name, formatEnvelope(c.Envelope)))
	return nil
}

// flushOutput moves captured op output into the log.
func (m *interactiveModel) flushOutput() {
	for _, line := range m.stdout.lines() {
		m.addLog(resultStyle.Render(line))
	}
	for _, line := range m.stderr.lines() {
		m.addLog(errorStyle.Render(line))
	}
}

func (m *interactiveModel) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateSelectOp {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				if len(m.ops) > 0 {
					m.prepareInputs()
					m.state = stateInputArgs
				}
				return m, nil
			case stateInputArgs:
				m.callOp()
				m.flushOutput()
				m.state = stateSelectOp
				m.inputs = nil
				return m, nil
			}

		case "tab":
			if m.state == stateInputArgs {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			if m.state == stateInputArgs {
				m.state = stateSelectOp
				m.inputs = nil
				return m, nil
			}
		}

	case pollMsg:
		if _, err := m.rt.Poll(context.Background(), m); err != nil {
			m.err = err
		}
		m.flushOutput()
		return m, pollTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	m.inputs = make([]textinput.Model, 2)
	for i := range m.inputs {
		ti := textinput.New()
		ti.Placeholder = "empty = absent"
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// callOp dispatches the selected op. Every call carries a fresh promise id;
// synchronous ops simply ignore it.
func (m *interactiveModel) callOp() {
	name := m.ops[m.selected]

	var args [2]codec.Raw
	for i, input := range m.inputs {
		raw, err := codec.Encode(convertArg(input.Value()))
		if err != nil {
			m.addLog(errorStyle.Render(fmt.Sprintf("%s: %v", name, err)))
			return
		}
		args[i] = raw
	}

	id := m.nextID
	m.nextID++

	res, err := m.rt.Call(name, id, args[0], args[1])
	switch {
	case err != nil:
		m.addLog(errorStyle.Render(fmt.Sprintf("%s: %v", name, err)))
	case res.Pending:
		m.pending[id] = name
	default:
		m.addLog(fmt.Sprintf("%s -> %s", name, formatEnvelope(res.Envelope)))
	}
}

// convertArg guesses a value from console input: integers, floats and
// booleans are recognized, anything else is a string.
func convertArg(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return v
	}
	return value
}

func formatEnvelope(env envelope.Envelope) string {
	if !env.IsOK() {
		return errorStyle.Render(env.Err.String())
	}
	var v any
	if err := env.Decode(&v); err != nil {
		return errorStyle.Render(err.Error())
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	return resultStyle.Render(fmt.Sprintf("%v", v))
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("opcore"))
	b.WriteString(" session ")
	b.WriteString(m.rt.Session())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an op to call:\n\n")
		for i, name := range m.ops {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + opStyle.Render(name))
			}
			b.WriteString("\n")
		}

	case stateInputArgs:
		fmt.Fprintf(&b, "Calling %s\n\n", opStyle.Render(m.ops[m.selected]))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
	}

	s := m.rt.Stats()
	b.WriteString("\n")
	if len(m.pending) > 0 {
		fmt.Fprintf(&b, "%s %d pending", m.spinner.View(), len(m.pending))
	} else {
		b.WriteString("  idle")
	}
	fmt.Fprintf(&b, "  calls %d  deferred %d  drained %d\n\n", s.Calls, s.Deferred, s.Queues.Drained)

	for _, line := range m.log {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.state == stateSelectOp {
		b.WriteString(helpStyle.Render("↑/↓ select • enter arguments • q quit"))
	} else {
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))
	}
	return b.String()
}

func runInteractive(cfg config.Config, log *zap.Logger) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal; use -list or -wasm instead")
	}

	// The TUI owns the terminal: logging stays off and op output is captured.
	stdout := &capture{prefix: "stdout| "}
	stderr := &capture{prefix: "stderr| "}
	rt, err := newRuntime(cfg, zap.NewNop(), stdout, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	log.Debug("interactive session", zap.String("session", rt.Session()))

	p := tea.NewProgram(newInteractiveModel(rt, stdout, stderr), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
