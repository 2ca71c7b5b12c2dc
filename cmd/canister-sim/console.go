package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/scenario"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const consoleHelp = `commands:
  <canister> <method> [arg]       ingress update call (arg is a TOML value or text)
  query <canister> <method> [arg] query call
  as <user> ...                   call as a mock user (alice, bob, john, parsa, oz)
  tick | drain | advance <ns>     heartbeat, run to quiescence, move the clock
  upgrade <canister> [kind]       reinstall keeping stable memory
  remove <canister>
  list | pending | events | clear | help | quit`

func newConsoleCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "console [scenario.toml]",
		Short: "Interactive console against the canisters of a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := scenario.Demo()
			if len(args) == 1 {
				loaded, err := scenario.Load(args[0])
				if err != nil {
					return err
				}
				s = loaded
			}
			if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
				return runTUI(cmd.Context(), v, s)
			}
			return runLines(cmd.Context(), v, s, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// console is the command interpreter shared by the TUI and line mode.
type console struct {
	sess   *scenario.Session
	events atomic.Bool
}

func (c *console) list() string {
	var b strings.Builder
	for _, name := range c.sess.Canisters() {
		id, _ := c.sess.ID(name)
		fmt.Fprintf(&b, "%-10s %s\n", name, id)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *console) pending() string {
	infos := c.sess.Replica().PendingCalls()
	if len(infos) == 0 {
		return "no pending calls"
	}
	var b strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&b, "call %d (%s) parent %d pending %d resolved %v\n",
			info.ID, info.Kind, info.Parent, info.Pending, info.Resolved)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *console) formatEvent(e callgraph.Event) string {
	line := fmt.Sprintf("  %-8s %-14s #%d", e.Type, e.Kind, e.ID)
	if e.Parent != 0 {
		line += fmt.Sprintf(" <- #%d", e.Parent)
	}
	if e.Type == callgraph.EventResolved {
		line += " " + e.Outcome.String()
	}
	return line
}

// execute runs one console line. It returns the text to show and whether
// the console should exit.
func (c *console) execute(ctx context.Context, line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "", "clear":
		return "", false, nil
	case "quit", "exit":
		return "", true, nil
	case "help":
		return consoleHelp, false, nil
	case "list":
		return c.list(), false, nil
	case "pending":
		return c.pending(), false, nil
	case "events":
		on := !c.events.Load()
		c.events.Store(on)
		return fmt.Sprintf("call-graph events %s", map[bool]string{true: "on", false: "off"}[on]), false, nil
	}

	st, err := scenario.ParseCommand(line)
	if err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res := c.sess.Exec(ctx, st)
	if res.Err != nil {
		return "", false, res.Err
	}
	if !res.HasOutcome {
		return "ok", false, nil
	}
	return res.Decoded, false, nil
}

func runLines(ctx context.Context, v *viper.Viper, s *scenario.Scenario, in io.Reader, out io.Writer) error {
	log, err := newLogger(v, zapcore.Lock(os.Stderr))
	if err != nil {
		return err
	}
	sess, err := scenario.Open(ctx, s, replicaConfig(v, log), nil)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	var mu sync.Mutex
	emit := func(text string) {
		mu.Lock()
		fmt.Fprintln(out, text)
		mu.Unlock()
	}

	c := &console{sess: sess}
	sess.Replica().Subscribe(callgraph.ObserverFunc(func(e callgraph.Event) {
		if c.events.Load() {
			emit(c.formatEvent(e))
		}
	}))

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text, quit, err := c.execute(ctx, scanner.Text())
		if err != nil {
			emit("error: " + err.Error())
			continue
		}
		if quit {
			return nil
		}
		if text != "" {
			emit(text)
		}
	}
	return scanner.Err()
}

type outputMsg struct {
	text  string
	style lipgloss.Style
}

type doneMsg struct {
	err  error
	text string
	quit bool
}

// programSink forwards log lines to the running program.
type programSink struct {
	prog atomic.Pointer[tea.Program]
}

func (s *programSink) send(msg tea.Msg) {
	if p := s.prog.Load(); p != nil {
		p.Send(msg)
	}
}

func (s *programSink) Write(p []byte) (int, error) {
	s.send(outputMsg{text: strings.TrimRight(string(p), "\n"), style: helpStyle})
	return len(p), nil
}

func (s *programSink) Sync() error { return nil }

type consoleModel struct {
	ctx     context.Context
	console *console
	title   string
	lines   []string
	history []string
	input   textinput.Model
	view    viewport.Model
	histIdx int
	busy    bool
	ready   bool
}

func runTUI(ctx context.Context, v *viper.Viper, s *scenario.Scenario) error {
	sink := &programSink{}
	log, err := newLogger(v, sink)
	if err != nil {
		return err
	}
	sess, err := scenario.Open(ctx, s, replicaConfig(v, log), nil)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	c := &console{sess: sess}
	sess.Replica().Subscribe(callgraph.ObserverFunc(func(e callgraph.Event) {
		if c.events.Load() {
			sink.send(outputMsg{text: c.formatEvent(e), style: eventStyle})
		}
	}))

	ti := textinput.New()
	ti.Placeholder = "echo echo hello"
	ti.Prompt = promptStyle.Render("> ")
	ti.Focus()

	m := &consoleModel{
		ctx:     ctx,
		console: c,
		title:   s.Name,
		input:   ti,
		lines:   []string{helpStyle.Render("type help for commands"), c.list()},
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	sink.prog.Store(p)
	defer sink.prog.Store(nil)

	_, err = p.Run()
	return err
}

func (m *consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *consoleModel) run(line string) tea.Cmd {
	return func() tea.Msg {
		text, quit, err := m.console.execute(m.ctx, line)
		return doneMsg{text: text, quit: quit, err: err}
	}
}

func (m *consoleModel) append(text string, style lipgloss.Style) {
	if text == "" {
		return
	}
	m.lines = append(m.lines, style.Render(text))
	if m.ready {
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.input.Width = msg.Width - 4
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "clear" {
				m.lines = nil
				m.view.SetContent("")
				return m, nil
			}
			if line == "" {
				return m, nil
			}
			m.history = append(m.history, line)
			m.histIdx = len(m.history)
			m.append("> "+line, promptStyle)
			m.busy = true
			return m, m.run(line)

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil
		}

	case outputMsg:
		m.append(msg.text, msg.style)
		return m, nil

	case doneMsg:
		m.busy = false
		if msg.quit {
			return m, tea.Quit
		}
		if msg.err != nil {
			m.append("error: "+msg.err.Error(), errorStyle)
		} else {
			m.append(msg.text, resultStyle)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *consoleModel) View() string {
	if !m.ready {
		return "Starting replica..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("canister-sim"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	status := "enter run • ↑/↓ history • pgup/pgdn scroll • esc quit"
	if m.busy {
		status = "running..."
	}
	b.WriteString(helpStyle.Render(status))
	return b.String()
}
