// Package repl implements xvm's interactive breakpoint shell: a bubbletea
// TUI that pauses the interpreter, shows its register/stack/disassembly
// state, and lets the operator single-step, continue, or set further
// breakpoints before control returns to the dispatch loop.
//
// The shell never dispatches instructions itself: it talks to the
// interpreter only through vm.VM's exported state, and hands a step request
// back to the driving loop (TakeStep). It shows the current instruction's
// disassembly, both stacks and the command history above a single-line
// command input.
package repl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/maxrt101/xvm-go/internal/isa"
	"github.com/maxrt101/xvm-go/internal/vm"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Shell owns one interactive debugging session. A single Shell may be
// reused across repeated BREAKPOINT syscalls within the same run; the only
// state that outlives one invocation of Pause is the breakpoint set the
// operator has built up and a pending single-step request.
type Shell struct {
	breakpoints map[uint32]bool
	stepPending bool
}

// New returns a Shell with no breakpoints set. addrs seeds it from the
// `breakpoint` configuration key (comma-separated `label` or `0xADDR`
// tokens already resolved to addresses by the caller).
func New(addrs []uint32) *Shell {
	s := &Shell{breakpoints: map[uint32]bool{}}
	for _, a := range addrs {
		s.breakpoints[a] = true
	}
	return s
}

// Hook returns a vm.SyscallFunc suitable for syscall.NewHost's onBreakpoint
// parameter: it blocks the calling goroutine (and therefore the whole
// single-threaded machine) until the operator resumes execution.
func (s *Shell) Hook() vm.SyscallFunc {
	return func(v *vm.VM) error {
		return s.Pause(v, "breakpoint")
	}
}

// ShouldBreak reports whether ip is a breakpoint the single-step runner
// (cmd/xvm's runMachine) should stop at before executing it.
func (s *Shell) ShouldBreak(ip uint32) bool {
	return s.breakpoints[ip]
}

// TakeStep reports whether the operator's last Pause ended with a
// single-step request, clearing it. The driving loop calls this before
// each instruction, so "step" re-pauses after exactly one Step while
// "continue" runs to the next breakpoint.
func (s *Shell) TakeStep() bool {
	step := s.stepPending
	s.stepPending = false
	return step
}

// Pause runs the bubbletea program, blocking until the operator issues a
// step, continue, or quit command. A quit halts the machine; a step is
// recorded for the driving loop to pick up via TakeStep.
func (s *Shell) Pause(v *vm.VM, reason string) error {
	m := newModel(v, s, reason)
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(model); ok {
		if fm.quit {
			v.Halt()
		}
		s.stepPending = fm.step
	}
	return nil
}

type model struct {
	vm     *vm.VM
	shell  *Shell
	reason string

	viewport viewport.Model
	input    textinput.Model

	history []string
	quit    bool
	step    bool
}

func newModel(v *vm.VM, s *Shell, reason string) model {
	ti := textinput.New()
	ti.Placeholder = "step | continue | break 0xADDR | print | quit"
	ti.Focus()
	ti.CharLimit = 64

	vpt := viewport.New(80, 16)

	m := model{vm: v, shell: s, reason: reason, viewport: vpt, input: ti}
	m.viewport.SetContent(m.stateView())
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quit = true
			return m, tea.Quit
		case tea.KeyEnter:
			cmd := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			m.history = append(m.history, "> "+cmd)
			if m.runCommand(cmd) {
				return m, tea.Quit
			}
			m.viewport.SetContent(m.stateView())
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runCommand executes one REPL command and reports whether the session
// should end (step/continue/quit), returning control to the dispatch loop.
func (m *model) runCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "step", "s":
		// Resume for exactly one instruction: the step flag travels back
		// through Pause to the driving loop, which re-pauses after the
		// next Step.
		m.step = true
		return true
	case "continue", "c":
		return true
	case "quit", "q":
		m.quit = true
		return true
	case "break", "b":
		if len(fields) < 2 {
			m.history = append(m.history, errStyle.Render("usage: break 0xADDR"))
			return false
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 32)
		if err != nil {
			if n, perr := strconv.ParseInt(fields[1], 0, 64); perr == nil {
				addr = uint64(n)
				err = nil
			}
		}
		if err != nil {
			m.history = append(m.history, errStyle.Render("bad address: "+fields[1]))
			return false
		}
		m.shell.breakpoints[uint32(addr)] = true
		m.history = append(m.history, fmt.Sprintf("breakpoint set at 0x%x", addr))
		return false
	case "print", "p":
		m.history = append(m.history, m.stateView())
		return false
	default:
		m.history = append(m.history, errStyle.Render("unknown command: "+fields[0]))
		return false
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("xvm paused (%s)", m.reason)))
	b.WriteString("\n")
	b.WriteString(m.stateView())
	b.WriteString("\n")
	for _, h := range m.history {
		b.WriteString(h)
		b.WriteString("\n")
	}
	b.WriteString(promptStyle.Render("xvm> ") + m.input.View())
	return b.String()
}

func (m model) stateView() string {
	v := m.vm
	var b strings.Builder
	line, _ := isa.DisassembleOne(m.vm.ReadBytes(v.IP, 10), 0)
	fmt.Fprintf(&b, "ip=0x%x  %s\n", v.IP, line)
	fmt.Fprintf(&b, "data stack:  %v\n", v.Data.Snapshot())
	fmt.Fprintf(&b, "call stack:  %v\n", v.Call.Snapshot())
	return b.String()
}
