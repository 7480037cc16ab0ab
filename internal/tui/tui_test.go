package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"ascend/internal/content"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/session"
)

type fakeGame struct {
	view     session.View
	contacts []domain.Contact
	convs    map[string]engine.ConversationState
	nodes    map[string]*content.Node
	updates  chan session.Update

	begun    []string
	chosen   []string
	advanced []string
	resets   int
	accept   bool
}

func newFakeGame() *fakeGame {
	g := &fakeGame{
		contacts: []domain.Contact{
			{ID: "contact_vane", Name: "Director Vane", IsUnlocked: true, HasUnread: true},
			{ID: "contact_team", Name: "Project Team", IsUnlocked: true},
			{ID: "contact_marcus", Name: "Marcus", IsUnlocked: false},
		},
		convs:   map[string]engine.ConversationState{},
		nodes:   map[string]*content.Node{},
		updates: make(chan session.Update, 1),
		accept:  true,
	}
	g.view.Game.Level = 1
	g.view.Game.LevelTitle = "The Handover"
	g.view.Game.Constraints = domain.Constraints{Schedule: 100, Budget: 80, Morale: 100, Scope: 50}
	return g
}

func (g *fakeGame) View(context.Context) (session.View, error) { return g.view, nil }

func (g *fakeGame) Contacts(context.Context) ([]domain.Contact, error) { return g.contacts, nil }

func (g *fakeGame) Conversation(_ context.Context, id string) (engine.ConversationState, *content.Node, error) {
	return g.convs[id], g.nodes[id], nil
}

func (g *fakeGame) Begin(_ context.Context, id string) (engine.ConversationState, error) {
	g.begun = append(g.begun, id)
	return g.convs[id], nil
}

func (g *fakeGame) Advance(_ context.Context, id string) (engine.ConversationState, bool, error) {
	g.advanced = append(g.advanced, id)
	return g.convs[id], true, nil
}

func (g *fakeGame) Choose(_ context.Context, id, choice string) (engine.ConversationState, bool, error) {
	g.chosen = append(g.chosen, choice)
	return g.convs[id], g.accept, nil
}

func (g *fakeGame) Reset(context.Context) error {
	g.resets++
	g.view.Halted = false
	g.view.Game.GameOver = nil
	return nil
}

func (g *fakeGame) Subscribe() (<-chan session.Update, func()) {
	return g.updates, func() {}
}

func (g *fakeGame) awaitVane() {
	g.convs["contact_vane"] = engine.ConversationState{
		ContactID:      "contact_vane",
		Phase:          engine.PhaseAwaitingChoice,
		AwaitingChoice: true,
		Messages: []engine.Message{
			{NodeID: "vane_welcome", Speaker: "Director Vane", Text: "Welcome aboard."},
			{NodeID: "vane_request", Speaker: "Director Vane", Text: "Order the hardware today."},
		},
	}
	g.nodes["contact_vane"] = &content.Node{
		ID: "vane_request",
		Choices: []content.Choice{
			{ID: "choice_order_hardware", Label: "ORDER HARDWARE", Style: content.StyleRisky},
			{ID: "choice_draft_charter", Label: "DRAFT CHARTER", Style: content.StyleSafe},
		},
	}
}

// send applies msg and then runs the resulting command once, feeding
// its message back, so one key press settles like it would in a program.
func send(t *testing.T, m *Model, msg tea.Msg) *Model {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return m
	}
	next := cmd()
	if next == nil {
		return m
	}
	if _, ok := next.(tea.QuitMsg); ok {
		return m
	}
	_, _ = m.Update(next)
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, g *fakeGame) *Model {
	t.Helper()
	m := New(context.Background(), g)
	m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	m.Update(m.load(""))
	return m
}

func TestSidebarListsUnlockedContacts(t *testing.T) {
	m := newTestModel(t, newFakeGame())
	out := m.View()
	if !strings.Contains(out, "Director Vane") || !strings.Contains(out, "Project Team") {
		t.Fatalf("expected unlocked contacts in sidebar:\n%s", out)
	}
	if strings.Contains(out, "Marcus") {
		t.Fatalf("locked contact should be hidden:\n%s", out)
	}
	if !strings.Contains(out, "Level 1: The Handover") || !strings.Contains(out, "budget") {
		t.Fatalf("expected header with gauges:\n%s", out)
	}
}

func TestOpenContactAndChoose(t *testing.T) {
	g := newFakeGame()
	g.awaitVane()
	m := newTestModel(t, g)

	m = send(t, m, key("enter"))
	if len(g.begun) != 1 || g.begun[0] != "contact_vane" {
		t.Fatalf("expected Begin(contact_vane), got %v", g.begun)
	}
	out := m.View()
	for _, want := range []string{"Welcome aboard.", "[1] ORDER HARDWARE", "[2] DRAFT CHARTER"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in view:\n%s", want, out)
		}
	}

	m = send(t, m, key("2"))
	if len(g.chosen) != 1 || g.chosen[0] != "choice_draft_charter" {
		t.Fatalf("expected draft charter choice, got %v", g.chosen)
	}

	m = send(t, m, key("9"))
	if len(g.chosen) != 1 {
		t.Fatalf("out of range choice should be ignored, got %v", g.chosen)
	}

	m = send(t, m, key(" "))
	if len(g.advanced) != 1 {
		t.Fatalf("expected advance, got %v", g.advanced)
	}
}

func TestRejectedChoiceShowsStatus(t *testing.T) {
	g := newFakeGame()
	g.awaitVane()
	g.accept = false
	m := newTestModel(t, g)
	m = send(t, m, key("enter"))
	m = send(t, m, key("1"))
	if m.status != "that choice is no longer available" {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestTypingIndicator(t *testing.T) {
	g := newFakeGame()
	g.convs["contact_team"] = engine.ConversationState{ContactID: "contact_team", Phase: engine.PhaseRevealing, IsTyping: true}
	m := newTestModel(t, g)
	m = send(t, m, key("down"))
	m = send(t, m, key("enter"))
	if g.begun[0] != "contact_team" {
		t.Fatalf("expected team conversation, got %v", g.begun)
	}
	if !strings.Contains(m.View(), "Project Team is typing...") {
		t.Fatalf("expected typing indicator:\n%s", m.View())
	}
}

func TestGameOverBannerAndRestart(t *testing.T) {
	g := newFakeGame()
	g.view.Halted = true
	g.view.Game.GameOver = &domain.GameOver{Reason: "UNAUTHORIZED_SPEND", Title: "Unauthorized Spend", Message: "No charter, no spending."}
	m := newTestModel(t, g)
	out := m.View()
	if !strings.Contains(out, "Unauthorized Spend") || !strings.Contains(out, "Press r to restart.") {
		t.Fatalf("expected game over banner:\n%s", out)
	}

	// reset reports a status, which in turn refreshes
	_, cmd := m.Update(key("r"))
	if cmd == nil {
		t.Fatalf("expected reset command")
	}
	status := cmd()
	_, refresh := m.Update(status)
	m.Update(refresh())
	if g.resets != 1 || m.view.Halted || strings.Contains(m.View(), "Press r to restart.") {
		t.Fatalf("expected game to restart, resets=%d view:\n%s", g.resets, m.View())
	}
}

func TestStreamUpdatesTriggerRefresh(t *testing.T) {
	g := newFakeGame()
	m := newTestModel(t, g)
	g.updates <- session.Update{Seq: 1, Type: "dialogue.message"}
	msg := m.wait()()
	if _, ok := msg.(updateMsg); !ok {
		t.Fatalf("expected updateMsg, got %T", msg)
	}
	_, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatalf("expected refresh and wait commands")
	}

	close(g.updates)
	if _, ok := m.wait()().(streamClosedMsg); !ok {
		t.Fatalf("expected stream closed message")
	}
	m.Update(streamClosedMsg{})
	if m.status != "session closed" {
		t.Fatalf("unexpected status %q", m.status)
	}
}

func TestErrorsAreShown(t *testing.T) {
	m := newTestModel(t, newFakeGame())
	m.Update(errMsg{errors.New("contact is locked")})
	if !strings.Contains(m.View(), "contact is locked") {
		t.Fatalf("expected error in footer:\n%s", m.View())
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, newFakeGame())
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}
