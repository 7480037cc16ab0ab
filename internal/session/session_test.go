package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"ascend/internal/config"
	"ascend/internal/content"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/gamestate"
	"ascend/internal/processmap"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	events   []domain.Event
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]domain.Session{}}
}

func (m *memStore) InsertSession(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) UpdateSessionStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.Status = status
	m.sessions[id] = s
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	mgr   *Manager
	clock *engine.ManualScheduler
	store *memStore
	sess  *Session
	ctx   context.Context
	t     *testing.T
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pack, err := content.Default()
	require.NoError(t, err)
	return newHarnessWith(t, pack, config.Default())
}

func newHarnessWith(t *testing.T, pack *content.Store, cfg *config.Config) *harness {
	t.Helper()
	clock := engine.NewManualScheduler(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	store := newMemStore()
	ids := 0
	mgr := NewManager(cfg, pack,
		WithStore(store),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			ids++
			return "id-" + string(rune('a'+ids-1))
		}),
		WithScheduler(func(*Loop) engine.Scheduler { return clock }),
	)
	t.Cleanup(mgr.Shutdown)
	ctx := context.Background()
	sess, err := mgr.Create(ctx, "player-1")
	require.NoError(t, err)
	return &harness{mgr: mgr, clock: clock, store: store, sess: sess, ctx: ctx, t: t}
}

// settle fires every pending continuation on the session loop.
func (h *harness) settle() {
	h.t.Helper()
	require.NoError(h.t, h.sess.loop.Do(h.ctx, func() { h.clock.RunAll() }))
}

func TestDraftCharterPath(t *testing.T) {
	h := newHarness(t)

	conv, err := h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseRevealing, conv.Phase)
	require.True(t, conv.IsTyping)

	h.settle()
	conv, node, err := h.sess.Conversation(h.ctx, "contact_vane")
	require.NoError(t, err)
	require.True(t, conv.AwaitingChoice)
	require.Len(t, conv.Messages, 2)
	require.NotNil(t, node)
	require.Equal(t, "vane_request", node.ID)
	require.Len(t, node.Choices, 2)

	conv, accepted, err := h.sess.Choose(h.ctx, "contact_vane", "choice_draft_charter")
	require.NoError(t, err)
	require.True(t, accepted)
	require.True(t, conv.Messages[2].IsPlayerChoice)

	_, accepted, err = h.sess.Choose(h.ctx, "contact_vane", "choice_draft_charter")
	require.NoError(t, err)
	require.False(t, accepted)

	h.settle()
	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.False(t, view.Halted)
	require.Equal(t, StatusActive, view.Session.Status)
	require.Contains(t, view.Game.UnlockedApps, "files")
	require.Contains(t, view.Game.UnlockedApps, "pmis")
	require.Equal(t, []string{"proc_develop_charter"}, view.Game.UnlockedProcesses)
	require.Len(t, view.Game.Inventory, 5)
	require.Len(t, view.Game.Notifications, 1)
	require.Len(t, view.Conversations, 1)
	require.Len(t, view.Conversations[0].Messages, 4)
	require.Equal(t, engine.PhaseIdle, view.Conversations[0].Phase)

	types := h.store.types()
	require.Equal(t, EventCreated, types[0])
	require.Contains(t, types, string(engine.EventMessage))
	require.Contains(t, types, string(engine.EventChoice))
	require.Contains(t, types, EventConsequence)
	require.NotContains(t, types, string(engine.EventPhase))
}

func TestGameOverAndReset(t *testing.T) {
	h := newHarness(t)
	_, err := h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	h.settle()

	_, accepted, err := h.sess.Choose(h.ctx, "contact_vane", "choice_order_hardware")
	require.NoError(t, err)
	require.True(t, accepted)

	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.True(t, view.Halted)
	require.Equal(t, StatusGameOver, view.Session.Status)
	require.NotNil(t, view.Game.GameOver)
	require.Equal(t, "UNAUTHORIZED_SPEND", view.Game.GameOver.Reason)
	require.NotEqual(t, "GAME OVER", view.Game.GameOver.Title)
	require.Equal(t, StatusGameOver, h.store.sessions[h.sess.ID()].Status)

	require.NoError(t, h.sess.Reset(h.ctx))
	view, err = h.sess.View(h.ctx)
	require.NoError(t, err)
	require.False(t, view.Halted)
	require.Nil(t, view.Game.GameOver)
	require.Empty(t, view.Conversations)
	require.Equal(t, StatusActive, view.Session.Status)

	conv, err := h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseRevealing, conv.Phase)
}

func TestLockedAndUnknownContacts(t *testing.T) {
	h := newHarness(t)

	_, err := h.sess.Begin(h.ctx, "contact_marcus")
	require.True(t, errors.Is(err, ErrContactLocked))

	_, err = h.sess.Begin(h.ctx, "contact_nobody")
	require.True(t, errors.Is(err, gamestate.ErrUnknownContact))

	_, _, err = h.sess.Conversation(h.ctx, "contact_nobody")
	require.True(t, errors.Is(err, gamestate.ErrUnknownContact))

	conv, _, err := h.sess.Conversation(h.ctx, "contact_marcus")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseIdle, conv.Phase)
	require.Empty(t, conv.Messages)
}

func TestUnreadWhileAway(t *testing.T) {
	h := newHarness(t)
	_, err := h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	require.NoError(t, h.sess.Leave(h.ctx))
	h.settle()

	contacts, err := h.sess.Contacts(h.ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.True(t, contacts[0].HasUnread)
	require.True(t, strings.HasSuffix(contacts[0].LastMessage, "..."))

	_, err = h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	contacts, err = h.sess.Contacts(h.ctx)
	require.NoError(t, err)
	require.False(t, contacts[0].HasUnread)
}

func TestDocumentTasksThroughSession(t *testing.T) {
	h := newHarness(t)

	task, err := h.sess.ActiveTask(h.ctx, "doc_business_case")
	require.NoError(t, err)
	require.Equal(t, "task_level1_roi", task.ID)

	_, err = h.sess.ActiveTask(h.ctx, "doc_unknown")
	require.True(t, errors.Is(err, ErrNoActiveTask))

	fb, err := h.sess.SubmitHighlight(h.ctx, task.ID, "hl_roi_20_percent")
	require.NoError(t, err)
	require.True(t, fb.Correct)

	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"task_level1_roi"}, view.CompletedTasks)
	require.Len(t, view.Game.Inventory, 1)
	require.Contains(t, h.store.types(), EventTaskAttempt)
}

func TestDismissNotification(t *testing.T) {
	h := newHarness(t)
	_, err := h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	h.settle()
	_, _, err = h.sess.Choose(h.ctx, "contact_vane", "choice_draft_charter")
	require.NoError(t, err)

	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.Len(t, view.Game.Notifications, 1)

	require.NoError(t, h.sess.DismissNotification(h.ctx, view.Game.Notifications[0].ID))
	require.True(t, errors.Is(h.sess.DismissNotification(h.ctx, "missing"), gamestate.ErrUnknownNotification))
}

func TestManagerLifecycle(t *testing.T) {
	h := newHarness(t)
	second, err := h.mgr.Create(h.ctx, "")
	require.NoError(t, err)
	require.Equal(t, "anonymous", second.Info().PlayerID)

	list := h.mgr.List()
	require.Len(t, list, 2)

	got, err := h.mgr.Get(second.ID())
	require.NoError(t, err)
	require.Same(t, second, got)

	require.NoError(t, h.mgr.Close(second.ID()))
	_, err = h.mgr.Get(second.ID())
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(h.mgr.Close(second.ID()), ErrNotFound))
	require.Equal(t, StatusClosed, second.Status())

	_, err = second.Begin(h.ctx, "contact_vane")
	require.True(t, errors.Is(err, ErrLoopClosed))
}

func TestWallClockSessionStreamsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	pack, err := content.Default()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Dialogue.TimeScale = 0
	mgr := NewManager(cfg, pack, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "player")
	require.NoError(t, err)
	updates, cancel := sess.Subscribe()

	_, err = sess.Begin(ctx, "contact_vane")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conv, _, err := sess.Conversation(ctx, "contact_vane")
		return err == nil && conv.AwaitingChoice
	}, 2*time.Second, 5*time.Millisecond)

	messages := 0
	for done := false; !done; {
		select {
		case u := <-updates:
			if u.Type == string(engine.EventMessage) {
				messages++
			}
		default:
			done = true
		}
	}
	require.Equal(t, 2, messages)

	cancel()
	cancel()
	mgr.Shutdown()

	_, open := <-updates
	require.False(t, open)
}

func TestSubscribeAfterClose(t *testing.T) {
	h := newHarness(t)
	h.sess.Close()
	ch, cancel := h.sess.Subscribe()
	defer cancel()
	_, open := <-ch
	require.False(t, open)
}

func TestTaskGameOverHaltsPendingReveals(t *testing.T) {
	pack, err := content.Load(fstest.MapFS{"pack.yaml": &fstest.MapFile{Data: []byte(`
contacts:
  - {id: chat, name: Chat}
trees:
  - id: chat
    contact: chat
    start: slow
    nodes:
      - id: slow
        text: still typing
        delay_ms: 1000
document_tasks:
  - id: bad
    document: doc
    level: 0
    correct: [h1]
    consequences:
      - {type: game_over, payload: {reason: BUDGET_DEPLETED, message: spent it}}
`)}})
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Game.UnlockedContacts = []string{"chat"}
	h := newHarnessWith(t, pack, cfg)

	conv, err := h.sess.Begin(h.ctx, "chat")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseRevealing, conv.Phase)

	fb, err := h.sess.SubmitHighlight(h.ctx, "bad", "h1")
	require.NoError(t, err)
	require.True(t, fb.Correct)
	h.settle()

	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.True(t, view.Halted)
	require.Equal(t, StatusGameOver, view.Session.Status)
	require.NotNil(t, view.Game.GameOver)
	require.Len(t, view.Conversations, 1)
	require.Empty(t, view.Conversations[0].Messages)
	require.Equal(t, engine.PhaseIdle, view.Conversations[0].Phase)
}

func TestCancelledCallLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	require.True(t, h.sess.loop.Post(func() { <-release }))
	ctx, cancel := context.WithTimeout(h.ctx, 20*time.Millisecond)
	defer cancel()
	_, err := h.sess.Begin(ctx, "contact_vane")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)

	h.settle()
	conv, _, err := h.sess.Conversation(h.ctx, "contact_vane")
	require.NoError(t, err)
	require.Equal(t, engine.PhaseIdle, conv.Phase)
	require.Empty(t, conv.Messages)

	done, stop := context.WithCancel(h.ctx)
	stop()
	_, err = h.sess.SubmitHighlight(done, "task_level1_roi", "hl_roi_20_percent")
	require.True(t, errors.Is(err, context.Canceled))
	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.Empty(t, view.CompletedTasks)
	require.Empty(t, view.Game.Inventory)
}

func TestProcessMapThroughSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.sess.SelectProcess(h.ctx, "proc_develop_charter")
	require.True(t, errors.Is(err, processmap.ErrProcessLocked))

	_, err = h.sess.Begin(h.ctx, "contact_vane")
	require.NoError(t, err)
	h.settle()
	_, _, err = h.sess.Choose(h.ctx, "contact_vane", "choice_draft_charter")
	require.NoError(t, err)

	sel, err := h.sess.SelectProcess(h.ctx, "proc_develop_charter")
	require.NoError(t, err)
	require.Len(t, sel.Missing, 2)
	_, err = h.sess.AssignInput(h.ctx, "input_business_case", "ev_market_analysis")
	require.NoError(t, err)

	_, _, err = h.sess.ExecuteProcess(h.ctx)
	require.True(t, errors.Is(err, processmap.ErrMissingInputs))

	sel, err = h.sess.AssignInput(h.ctx, "input_agreements", "ev_legal_framework")
	require.NoError(t, err)
	require.Empty(t, sel.Missing)
	require.Equal(t, 93, sel.Quality)

	exec, docs, err := h.sess.ExecuteProcess(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 93, exec.Quality)
	require.Len(t, docs, 2)

	view, err := h.sess.View(h.ctx)
	require.NoError(t, err)
	require.Nil(t, view.Processes.Selection)
	require.Len(t, view.Processes.Documents, 2)
	require.Len(t, view.Processes.History, 1)
	last := view.Game.Notifications[len(view.Game.Notifications)-1]
	require.Equal(t, "Process Complete", last.Title)
	require.Equal(t, domain.SeveritySuccess, last.Severity)
	require.Contains(t, h.store.types(), EventProcessExecuted)

	require.NoError(t, h.sess.Reset(h.ctx))
	view, err = h.sess.View(h.ctx)
	require.NoError(t, err)
	require.Empty(t, view.Processes.Documents)
	require.Empty(t, view.Processes.History)
}
