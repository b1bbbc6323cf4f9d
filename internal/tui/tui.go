// Package tui is the interactive ask session: a question input, an answer
// viewport, and excerpt navigation over the retrieval context.
package tui

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

	"github.com/guildsage/guildsage/ai/rag"
)

// Asker is the answering capability the session needs. Implemented by
// rag.Answerer.
type Asker interface {
	Ask(ctx context.Context, q *rag.Question) (*rag.Answer, error)
}

// Run starts the interactive session and blocks until the user quits.
func Run(ctx context.Context, asker Asker) error {
	program := tea.NewProgram(New(ctx, asker), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type answerMsg struct {
	answer   *rag.Answer
	duration time.Duration
}

type errMsg struct {
	err error
}

// Model is the Bubble Tea model for the ask session.
type Model struct {
	ctx   context.Context
	asker Asker

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	answer *rag.Answer
	cursor int // selected excerpt
	busy   bool
	status string
	ready  bool
}

// New creates a new session model.
func New(ctx context.Context, asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "? "
	ti.Placeholder = "Ask about your server's history and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		ctx:      ctx,
		asker:    asker,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   "Ready. Tab cycles excerpts, arrows scroll, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window, and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input frame, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width)
		m.viewport.Height = maxInt(3, vh-ah)
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			question := strings.TrimSpace(m.input.Value())
			if question != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				return m, tea.Batch(m.spinner.Tick, m.ask(question))
			}
		case "tab":
			if m.answer != nil && len(m.answer.Excerpts) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Excerpts)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		case "shift+tab":
			if m.answer != nil && len(m.answer.Excerpts) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Excerpts)) % len(m.answer.Excerpts)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		}

	case answerMsg:
		m.busy = false
		m.answer = msg.answer
		m.cursor = 0
		switch msg.answer.Outcome {
		case rag.OutcomeNoContext:
			m.status = "No relevant history found."
		default:
			m.status = fmt.Sprintf("Answered from %d excerpts in %s.",
				len(msg.answer.Excerpts), msg.duration.Round(100*time.Millisecond))
		}
		m.viewport.SetContent(m.renderContent())
		m.viewport.GotoTop()
		m.input.SetValue("")
		return m, nil

	case errMsg:
		m.busy = false
		m.status = "Error: " + msg.err.Error()
		return m, nil

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// ask runs the question off the update loop and reports back as a message.
func (m Model) ask(question string) tea.Cmd {
	asker, ctx := m.asker, m.ctx
	return func() tea.Msg {
		startTime := time.Now()
		answer, err := asker.Ask(ctx, &rag.Question{Text: question})
		if err != nil {
			return errMsg{err}
		}
		return answerMsg{answer: answer, duration: time.Since(startTime)}
	}
}

// View renders the session layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("GuildSage")
	content := answerBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())

	status := m.status
	if m.busy {
		status = m.spinner.View() + status
	}
	if strings.HasPrefix(m.status, "Error:") {
		status = errorStyle.Render(status)
	} else {
		status = statusStyle.Render(status)
	}

	return header + "\n" + content + "\n" + input + "\n" + status
}

func (m Model) renderContent() string {
	if m.answer == nil {
		return "Ask a question about your server's history.\n\nAnswers cite conversation excerpts you can page through with Tab."
	}
	if m.answer.Outcome == rag.OutcomeNoContext {
		return "No relevant history found. Try rephrasing, or sync more channels first."
	}

	var b strings.Builder
	b.WriteString(m.answer.Text)
	b.WriteString("\n\n")

	excerpt := m.answer.Excerpts[m.cursor]
	where := "#" + excerpt.Anchor.ChannelID
	if excerpt.Anchor.ThreadID != "" {
		where += "/" + excerpt.Anchor.ThreadID
	}
	b.WriteString(faintStyle.Render(fmt.Sprintf("Excerpt %d/%d  score=%.2f  %s",
		m.cursor+1, len(m.answer.Excerpts), excerpt.Score, where)))
	b.WriteString("\n")

	for _, msg := range excerpt.Messages {
		line := fmt.Sprintf("%s  %s: %s",
			time.UnixMilli(msg.PostedTs).Format("Jan _2 15:04"),
			msg.Author,
			msg.Text,
		)
		if msg.ID == excerpt.Anchor.ID {
			line = anchorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	faintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	anchorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
