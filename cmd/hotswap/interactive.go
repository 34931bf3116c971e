package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/runtime"
	"github.com/wippyai/wasm-hotswap/value"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD866"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxNotices = 5

// interactiveModel drives the session through a Worker: bubbletea runs
// commands on their own goroutines.
type interactiveModel struct {
	err      error
	opts     options
	worker   *runtime.Worker
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	notices  []string
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	module string
	fn     *image.Function
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(o options) *interactiveModel {
	return &interactiveModel{opts: o, state: stateSelectFunc}
}

type loadedMsg struct {
	err    error
	worker *runtime.Worker
}

type funcsMsg struct {
	err   error
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

type reloadMsg struct {
	err    error
	events []runtime.ReloadEvent
}

type tickMsg time.Time

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := openSession(context.Background(), m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{worker: runtime.NewWorker(s)}
}

func (m *interactiveModel) tick() tea.Cmd {
	return tea.Tick(m.opts.cfg.PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) listFuncs() tea.Msg {
	v, err := m.worker.Do(context.Background(), func(s *runtime.Session) (any, error) {
		var funcs []funcInfo
		for _, mod := range s.Modules() {
			fns, err := s.Functions(mod)
			if err != nil {
				return nil, err
			}
			for _, fn := range fns {
				funcs = append(funcs, funcInfo{module: mod, fn: fn})
			}
		}
		return funcs, nil
	})
	if err != nil {
		return funcsMsg{err: err}
	}
	return funcsMsg{funcs: v.([]funcInfo)}
}

// reload runs fn on the worker and collects the reload events it causes.
func (m *interactiveModel) reload(fn func(ctx context.Context, s *runtime.Session) error) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		v, err := m.worker.Do(ctx, func(s *runtime.Session) (any, error) {
			var events []runtime.ReloadEvent
			s.OnReload(func(ev runtime.ReloadEvent) { events = append(events, ev) })
			defer s.OnReload(nil)
			err := fn(ctx, s)
			return events, err
		})
		events, _ := v.([]runtime.ReloadEvent)
		return reloadMsg{err: err, events: events}
	}
}

func (m *interactiveModel) checkReload() tea.Cmd {
	return m.reload(func(ctx context.Context, s *runtime.Session) error {
		_, err := s.CheckReload(ctx)
		return err
	})
}

func (m *interactiveModel) reloadAll() tea.Cmd {
	return m.reload(func(ctx context.Context, s *runtime.Session) error {
		for _, mod := range s.Modules() {
			if _, err := s.ReloadFile(ctx, mod); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *interactiveModel) shutdown() {
	if m.worker == nil {
		return
	}
	ctx := context.Background()
	_, _ = m.worker.Do(ctx, func(s *runtime.Session) (any, error) {
		if m.opts.snapshot != "" {
			if err := saveSnapshot(s, m.opts.snapshot); err != nil {
				return nil, err
			}
		}
		return nil, s.Destroy(ctx)
	})
	m.worker.Stop()
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.shutdown()
				return m, tea.Quit
			}

		case "r":
			if m.state == stateSelectFunc && m.worker != nil {
				return m, m.reloadAll()
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.worker = msg.worker
		return m, tea.Batch(m.listFuncs, m.tick())

	case funcsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		if m.selected >= len(m.funcs) {
			m.selected = max(len(m.funcs)-1, 0)
		}

	case tickMsg:
		return m, tea.Batch(m.checkReload(), m.tick())

	case reloadMsg:
		for _, ev := range msg.events {
			m.notice(fmt.Sprintf("%s %s gen %d: %s",
				time.Now().Format("15:04:05"), ev.Module, ev.Generation, describeChanges(ev)))
		}
		if msg.err != nil {
			m.notice("reload failed: " + msg.err.Error())
		}
		if len(msg.events) > 0 && m.state == stateSelectFunc {
			return m, m.listFuncs
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
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

func (m *interactiveModel) notice(s string) {
	m.notices = append(m.notices, s)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *interactiveModel) prepareInputs() {
	sig := m.funcs[m.selected].fn.Signature
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, k := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = k.String()
		ti.Prompt = paramName(sig, i) + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func paramName(sig image.Signature, i int) string {
	if i < len(sig.Names) && sig.Names[i] != "" {
		return sig.Names[i]
	}
	return fmt.Sprintf("arg%d", i)
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()
	f := m.funcs[m.selected]
	texts := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		texts[i] = input.Value()
	}
	args, err := convertArgs(f.fn, texts)
	if err != nil {
		return callResultMsg{err: err}
	}

	v, err := m.worker.Do(ctx, func(s *runtime.Session) (any, error) {
		return s.Call(ctx, f.module, f.fn.Name, args...)
	})
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: formatValue(v.(value.Value))}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.worker == nil {
		return "Loading modules..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Hot Swap"))
	b.WriteString(" ")
	b.WriteString(strings.Join(m.opts.files, ", "))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • r reload • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.fn.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.fn.Signature.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.fn.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	if len(m.notices) > 0 {
		b.WriteString("\n\n")
		for _, n := range m.notices {
			b.WriteString(noticeStyle.Render(n))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func formatFunc(f funcInfo) string {
	sig := f.fn.Signature
	params := make([]string, len(sig.Params))
	for i, k := range sig.Params {
		params[i] = paramName(sig, i) + ": " + typeStyle.Render(k.String())
	}
	result := ""
	if sig.Result != value.KindVoid {
		result = " -> " + typeStyle.Render(sig.Result.String())
	}
	return funcStyle.Render(f.fn.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(o options) error {
	p := tea.NewProgram(newInteractiveModel(o), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
