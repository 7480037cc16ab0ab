package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ascend/internal/content"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/session"
)

const (
	sidebarWidth = 28
	gaugeCells   = 10
)

// Game is the slice of a session the terminal client drives.
type Game interface {
	View(ctx context.Context) (session.View, error)
	Contacts(ctx context.Context) ([]domain.Contact, error)
	Conversation(ctx context.Context, contactID string) (engine.ConversationState, *content.Node, error)
	Begin(ctx context.Context, contactID string) (engine.ConversationState, error)
	Advance(ctx context.Context, contactID string) (engine.ConversationState, bool, error)
	Choose(ctx context.Context, contactID, choiceID string) (engine.ConversationState, bool, error)
	Reset(ctx context.Context) error
	Subscribe() (<-chan session.Update, func())
}

type updateMsg session.Update

type streamClosedMsg struct{}

type errMsg struct{ err error }

type statusMsg string

type refreshMsg struct {
	open     string
	view     session.View
	contacts []domain.Contact
	conv     engine.ConversationState
	node     *content.Node
}

type styles struct {
	title    lipgloss.Style
	sidebar  lipgloss.Style
	selected lipgloss.Style
	unread   lipgloss.Style
	speaker  lipgloss.Style
	player   lipgloss.Style
	typing   lipgloss.Style
	safe     lipgloss.Style
	risky    lipgloss.Style
	neutral  lipgloss.Style
	banner   lipgloss.Style
	help     lipgloss.Style
	err      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		sidebar:  lipgloss.NewStyle().Width(sidebarWidth).Border(lipgloss.RoundedBorder()).Padding(0, 1),
		selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		unread:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		speaker:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		player:   lipgloss.NewStyle().Foreground(lipgloss.Color("120")),
		typing:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
		safe:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		risky:    lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		neutral:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		banner:   lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("196")).Padding(0, 2),
		help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Model is the bubbletea model of the chat client.
type Model struct {
	ctx         context.Context
	game        Game
	updates     <-chan session.Update
	unsubscribe func()

	view     session.View
	contacts []domain.Contact
	cursor   int
	open     string
	conv     engine.ConversationState
	node     *content.Node
	status   string
	err      error

	vp     viewport.Model
	width  int
	height int
	styles styles
}

// New subscribes to game and returns a model ready for tea.NewProgram.
func New(ctx context.Context, game Game) *Model {
	updates, cancel := game.Subscribe()
	return &Model{
		ctx:         ctx,
		game:        game,
		updates:     updates,
		unsubscribe: cancel,
		vp:          viewport.New(80, 20),
		styles:      defaultStyles(),
	}
}

// Run drives the model until the player quits.
func Run(ctx context.Context, game Game, opts ...tea.ProgramOption) error {
	m := New(ctx, game)
	defer m.unsubscribe()
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.wait())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = max(msg.Width-sidebarWidth-6, 20)
		m.vp.Height = max(msg.Height-14, 5)
		m.renderMessages()
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case updateMsg:
		return m, tea.Batch(m.refresh(), m.wait())
	case streamClosedMsg:
		m.status = "session closed"
		return m, nil
	case refreshMsg:
		m.view = msg.view
		m.contacts = unlocked(msg.contacts)
		if m.cursor >= len(m.contacts) {
			m.cursor = max(len(m.contacts)-1, 0)
		}
		if msg.open == m.open {
			m.conv, m.node = msg.conv, msg.node
		}
		m.err = nil
		m.renderMessages()
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, m.refresh()
	case errMsg:
		m.err = msg.err
		return m, nil
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	switch key {
	case "ctrl+c", "q":
		m.unsubscribe()
		return tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return nil
	case "down", "j":
		if m.cursor < len(m.contacts)-1 {
			m.cursor++
		}
		return nil
	case "enter":
		if len(m.contacts) == 0 {
			return nil
		}
		m.open = m.contacts[m.cursor].ID
		m.status = ""
		return m.begin(m.open)
	case " ":
		if m.open == "" {
			return nil
		}
		return m.advance(m.open)
	case "r":
		if !m.view.Halted {
			return nil
		}
		return m.reset()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return cmd
	}
	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		return m.choose(int(key[0] - '1'))
	}
	return nil
}

func (m *Model) wait() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return streamClosedMsg{}
		}
		return updateMsg(u)
	}
}

// load reads everything the view renders. It runs off the update goroutine,
// so it only touches fields that never change after New.
func (m *Model) load(open string) tea.Msg {
	view, err := m.game.View(m.ctx)
	if err != nil {
		return errMsg{err}
	}
	contacts, err := m.game.Contacts(m.ctx)
	if err != nil {
		return errMsg{err}
	}
	msg := refreshMsg{open: open, view: view, contacts: contacts}
	if open != "" {
		if msg.conv, msg.node, err = m.game.Conversation(m.ctx, open); err != nil {
			return errMsg{err}
		}
	}
	return msg
}

func (m *Model) refresh() tea.Cmd {
	open := m.open
	return func() tea.Msg { return m.load(open) }
}

func (m *Model) begin(contactID string) tea.Cmd {
	return func() tea.Msg {
		if _, err := m.game.Begin(m.ctx, contactID); err != nil {
			return errMsg{err}
		}
		return m.load(contactID)
	}
}

func (m *Model) advance(contactID string) tea.Cmd {
	return func() tea.Msg {
		if _, _, err := m.game.Advance(m.ctx, contactID); err != nil {
			return errMsg{err}
		}
		return m.load(contactID)
	}
}

func (m *Model) choose(idx int) tea.Cmd {
	if m.open == "" || m.node == nil || !m.conv.AwaitingChoice || idx >= len(m.node.Choices) {
		return nil
	}
	contactID, choiceID := m.open, m.node.Choices[idx].ID
	return func() tea.Msg {
		_, accepted, err := m.game.Choose(m.ctx, contactID, choiceID)
		if err != nil {
			return errMsg{err}
		}
		if !accepted {
			return statusMsg("that choice is no longer available")
		}
		return m.load(contactID)
	}
}

func (m *Model) reset() tea.Cmd {
	return func() tea.Msg {
		if err := m.game.Reset(m.ctx); err != nil {
			return errMsg{err}
		}
		return statusMsg("game restarted")
	}
}

func (m *Model) View() string {
	header := m.renderHeader()
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", m.renderMain())
	parts := []string{header, body}
	if over := m.view.Game.GameOver; over != nil {
		parts = append(parts, m.renderGameOver(over))
	}
	footer := m.styles.help.Render("↑/↓ select  enter open  1-9 choose  space skip  r restart  q quit")
	if m.status != "" {
		footer = m.status + "  " + footer
	}
	if m.err != nil {
		footer = m.styles.err.Render(m.err.Error()) + "\n" + footer
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderHeader() string {
	g := m.view.Game
	title := m.styles.title.Render(fmt.Sprintf("ASCEND  Level %d: %s", g.Level, g.LevelTitle))
	gauges := make([]string, 0, len(domain.Metrics))
	for _, metric := range domain.Metrics {
		gauges = append(gauges, gauge(string(metric), g.Constraints.Get(metric)))
	}
	return title + "\n" + strings.Join(gauges, "   ")
}

func gauge(label string, value int) string {
	value = min(max(value, 0), 100)
	filled := value * gaugeCells / 100
	return fmt.Sprintf("%-8s %s%s %3d", label, strings.Repeat("█", filled), strings.Repeat("░", gaugeCells-filled), value)
}

func (m *Model) renderSidebar() string {
	var b strings.Builder
	b.WriteString("Contacts\n")
	for i, c := range m.contacts {
		marker := "  "
		if i == m.cursor {
			marker = "› "
		}
		name := c.Name
		if c.ID == m.open {
			name = m.styles.selected.Render(name)
		}
		line := marker + name
		if c.HasUnread {
			line += " " + m.styles.unread.Render("●")
		}
		b.WriteString(line + "\n")
	}
	return m.styles.sidebar.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *Model) renderMain() string {
	if m.open == "" {
		return "Select a contact and press enter."
	}
	var b strings.Builder
	b.WriteString(m.vp.View())
	if m.conv.IsTyping {
		b.WriteString("\n" + m.styles.typing.Render(m.contactName(m.open)+" is typing..."))
	}
	if m.conv.AwaitingChoice && m.node != nil {
		b.WriteString("\n")
		for i, ch := range m.node.Choices {
			style := m.styles.neutral
			switch ch.Style {
			case content.StyleSafe:
				style = m.styles.safe
			case content.StyleRisky:
				style = m.styles.risky
			}
			b.WriteString("\n" + style.Render(fmt.Sprintf("[%d] %s", i+1, ch.Label)))
		}
	}
	return b.String()
}

func (m *Model) renderMessages() {
	var b strings.Builder
	wrap := lipgloss.NewStyle().Width(max(m.vp.Width, 20))
	for _, msg := range m.conv.Messages {
		if msg.IsPlayerChoice {
			b.WriteString(wrap.Render(m.styles.player.Render("You: "+msg.Text)) + "\n")
			continue
		}
		b.WriteString(wrap.Render(m.styles.speaker.Render(msg.Speaker)+": "+msg.Text) + "\n")
	}
	m.vp.SetContent(strings.TrimRight(b.String(), "\n"))
	m.vp.GotoBottom()
}

func (m *Model) renderGameOver(over *domain.GameOver) string {
	lines := []string{over.Title, "", over.Message}
	if over.Lesson != "" {
		lines = append(lines, "", over.Lesson)
	}
	lines = append(lines, "", "Press r to restart.")
	return m.styles.banner.Render(strings.Join(lines, "\n"))
}

func (m *Model) contactName(id string) string {
	for _, c := range m.contacts {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}

func unlocked(contacts []domain.Contact) []domain.Contact {
	out := make([]domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.IsUnlocked {
			out = append(out, c)
		}
	}
	return out
}
