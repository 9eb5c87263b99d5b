package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/value"
)

// playCmd opens the interactive playground
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Interactive pattern playground",
	Long: `Opens a terminal playground: a pattern pane, a subject pane, and a
live result pane showing the match outcome and bindings as you type.

Tab switches panes, ctrl+j toggles the subject between expression syntax
and JSON, esc quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(nil)
		if err != nil {
			return err
		}
		p := tea.NewProgram(
			newPlayModel(eng, cfg.GetApplyTimeout()),
			tea.WithAltScreen(),
		)
		_, err = p.Run()
		return err
	},
}

const playDebounce = 300 * time.Millisecond

var (
	playTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	playPaneStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).
			Padding(0, 1)
	playFocusStyle = playPaneStyle.BorderForeground(lipgloss.Color("#8BC34A"))
	playLabelStyle = lipgloss.NewStyle().Faint(true)
	playErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	playOkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	playHelpStyle  = lipgloss.NewStyle().Faint(true)
)

const playWelcome = `Type a pattern above and a subject below; the result updates as you type.

  pattern  <Some> n           subject  Some(3)
  pattern  [x, ^(1 + 2), _]   subject  [9, 3, 7]
  pattern  [user: u]          subject  {user: "ada", age: 36}

Guards belong to ruleset arms; here a bare pattern matches one value.`

// debounceMsg fires after a pause in typing; stale generations are dropped.
type debounceMsg struct {
	seq int
}

// playResultMsg carries the rendered outcome of one evaluation.
type playResultMsg struct {
	seq  int
	text string
}

type playModel struct {
	pattern textarea.Model
	subject textarea.Model
	results viewport.Model

	eng     *match.Engine
	timeout time.Duration

	seq       int // bumped on every edit; only the latest evaluates
	focusSubj bool
	asJSON    bool
	width     int
	height    int
	ready     bool
}

func newPlayModel(eng *match.Engine, timeout time.Duration) playModel {
	pat := textarea.New()
	pat.Placeholder = "<Some> n"
	pat.ShowLineNumbers = false
	pat.CharLimit = 4096
	pat.SetHeight(2)
	pat.Focus()

	subj := textarea.New()
	subj.Placeholder = "Some(3)"
	subj.ShowLineNumbers = false
	subj.CharLimit = 4096
	subj.SetHeight(2)

	vp := viewport.New(80, 10)
	vp.SetContent(playWelcome)

	return playModel{
		pattern: pat,
		subject: subj,
		results: vp,
		eng:     eng,
		timeout: timeout,
	}
}

func (m playModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyTab:
			m.focusSubj = !m.focusSubj
			if m.focusSubj {
				m.pattern.Blur()
				return m, m.subject.Focus()
			}
			m.subject.Blur()
			return m, m.pattern.Focus()

		case tea.KeyCtrlJ:
			m.asJSON = !m.asJSON
			m.seq++
			return m, playTick(m.seq)

		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.results, cmd = m.results.Update(msg)
			return m, cmd
		}

		before := m.pattern.Value() + "\x00" + m.subject.Value()
		var cmd tea.Cmd
		if m.focusSubj {
			m.subject, cmd = m.subject.Update(msg)
		} else {
			m.pattern, cmd = m.pattern.Update(msg)
		}
		if after := m.pattern.Value() + "\x00" + m.subject.Value(); after != before {
			m.seq++
			return m, tea.Batch(cmd, playTick(m.seq))
		}
		return m, cmd

	case debounceMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.evalCmd(msg.seq)

	case playResultMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.results.SetContent(msg.text)
		m.results.GotoTop()
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		inner := msg.Width - 6
		if inner < 20 {
			inner = 20
		}
		m.pattern.SetWidth(inner)
		m.subject.SetWidth(inner)
		m.results.Width = inner
		m.results.Height = max(3, msg.Height-16)
		m.ready = true
		return m, nil
	}

	// Blink ticks and other component messages reach every pane.
	var patCmd, subjCmd, vpCmd tea.Cmd
	m.pattern, patCmd = m.pattern.Update(msg)
	m.subject, subjCmd = m.subject.Update(msg)
	m.results, vpCmd = m.results.Update(msg)
	return m, tea.Batch(patCmd, subjCmd, vpCmd)
}

func (m playModel) View() string {
	if !m.ready {
		return "\n  starting..."
	}
	patPane, subjPane := playFocusStyle, playPaneStyle
	if m.focusSubj {
		patPane, subjPane = playPaneStyle, playFocusStyle
	}
	mode := "expression"
	if m.asJSON {
		mode = "json"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		playTitleStyle.Render(" matchbox play"),
		playLabelStyle.Render(" pattern"),
		patPane.Render(m.pattern.View()),
		playLabelStyle.Render(" subject · "+mode),
		subjPane.Render(m.subject.View()),
		playLabelStyle.Render(" result"),
		playPaneStyle.Render(m.results.View()),
		playHelpStyle.Render(" tab panes · ctrl+j expression/json · esc quit"),
	)
}

func playTick(seq int) tea.Cmd {
	return tea.Tick(playDebounce, func(time.Time) tea.Msg {
		return debounceMsg{seq: seq}
	})
}

// evalCmd evaluates off the update loop; the result comes back as a message.
func (m playModel) evalCmd(seq int) tea.Cmd {
	eng, timeout := m.eng, m.timeout
	patSrc := strings.TrimSpace(m.pattern.Value())
	subjSrc := strings.TrimSpace(m.subject.Value())
	asJSON := m.asJSON
	return func() tea.Msg {
		return playResultMsg{seq: seq, text: playEval(eng, patSrc, subjSrc, asJSON, timeout)}
	}
}

func playEval(eng *match.Engine, patSrc, subjSrc string, asJSON bool, timeout time.Duration) string {
	if patSrc == "" && subjSrc == "" {
		return playWelcome
	}

	var lines []string
	var pat pattern.Pattern
	if patSrc == "" {
		lines = append(lines, playLabelStyle.Render("pattern: waiting"))
	} else {
		p, err := pattern.ParsePattern(patSrc)
		if err == nil {
			err = match.CompilePattern(p, nil, nil)
		}
		if err != nil {
			lines = append(lines, playErrStyle.Render("pattern: "+err.Error()))
		} else {
			pat = p
		}
	}

	var subject value.Value
	if subjSrc == "" {
		lines = append(lines, playLabelStyle.Render("subject: waiting"))
	} else {
		v, err := parseSubject(subjSrc, asJSON)
		if err != nil {
			lines = append(lines, playErrStyle.Render(err.Error()))
		} else {
			subject = v
		}
	}
	if pat == nil || subject == nil {
		return strings.Join(lines, "\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	binds, ok, err := eng.Match(ctx, pat, subject)
	elapsed := time.Since(start)
	if err != nil {
		lines = append(lines, playErrStyle.Render(err.Error()))
		return strings.Join(lines, "\n")
	}
	if !ok {
		lines = append(lines, playErrStyle.Render("no match"))
		return strings.Join(lines, "\n")
	}

	head := playOkStyle.Render("match") + playLabelStyle.Render("  "+elapsed.Round(time.Microsecond).String())
	lines = append(lines, head)
	for _, name := range binds.Names() {
		v, _ := binds.Get(name)
		lines = append(lines, fmt.Sprintf("  %s = %s", name, v))
	}
	return strings.Join(lines, "\n")
}
