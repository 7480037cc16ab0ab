package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ascend/internal/consequence"
	"ascend/internal/content"
	"ascend/internal/doctasks"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/gamestate"
	"ascend/internal/processmap"
)

const (
	StatusActive   = "active"
	StatusGameOver = "game_over"
	StatusClosed   = "closed"
)

const (
	EventCreated             = "session.created"
	EventSessionReset        = "session.reset"
	EventConsequence         = "consequence.applied"
	EventTaskAttempt         = "task.attempt"
	EventNotificationDismiss = "notification.dismissed"
	EventProcessExecuted     = "process.executed"
)

const (
	defaultSubscriberBuffer = 64
	journalTimeout          = 5 * time.Second
)

var (
	ErrContactLocked = errors.New("contact is locked")
	ErrNoActiveTask  = errors.New("no active task for document")
)

// Store persists sessions and their journal. A nil Store keeps everything
// in memory.
type Store interface {
	InsertSession(ctx context.Context, s domain.Session) error
	UpdateSessionStatus(ctx context.Context, id, status string) error
	AppendEvent(ctx context.Context, e domain.Event) error
}

// Update is one streamed change to a session.
type Update struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	ContactID string         `json:"contact_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// View is a consistent read of a whole session.
type View struct {
	Session        domain.Session             `json:"session"`
	Game           domain.GameSnapshot        `json:"game"`
	Halted         bool                       `json:"halted"`
	Conversations  []engine.ConversationState `json:"conversations"`
	CompletedTasks []string                   `json:"completed_tasks"`
	Processes      ProcessView                `json:"processes"`
}

// ProcessView is the process-map bench and everything it has produced.
type ProcessView struct {
	Selection *processmap.Selection  `json:"selection,omitempty"`
	Documents []processmap.Document  `json:"documents"`
	History   []processmap.Execution `json:"history"`
}

// Session is one player's game. Every method is serialized through the
// session's loop together with dialogue timers.
type Session struct {
	id        string
	playerID  string
	createdAt time.Time

	loop      *Loop
	store     Store
	log       *zap.Logger
	content   *content.Store
	state     *gamestate.State
	dispatch  *consequence.Dispatcher
	engine    *engine.Engine
	tasks     *doctasks.Registry
	processes *processmap.Registry
	now       func() time.Time

	// loop-owned
	viewing string

	mu        sync.Mutex
	status    string
	updatedAt time.Time
	seq       int64
	subs      map[int]chan Update
	nextSub   int
}

type params struct {
	id, playerID string
	cfg          Settings
	content      *content.Store
	seed         gamestate.Seed
	store        Store
	log          *zap.Logger
	now          func() time.Time
	newID        func() string
	scheduler    func(*Loop) engine.Scheduler
}

// Settings are the per-session knobs taken from configuration.
type Settings struct {
	Delay                  func(ms int) time.Duration
	AutoAdvanceDelay       time.Duration
	NotificationDurationMs int
	Strict                 bool
}

func newSession(p params) *Session {
	now := p.now()
	s := &Session{
		id:        p.id,
		playerID:  p.playerID,
		createdAt: now,
		updatedAt: now,
		loop:      NewLoop(),
		store:     p.store,
		log:       p.log.With(zap.String("session", p.id)),
		content:   p.content,
		now:       p.now,
		status:    StatusActive,
		subs:      map[int]chan Update{},
	}
	s.state = gamestate.New(p.seed, gamestate.WithClock(p.now))
	s.dispatch = consequence.NewDispatcher(consequence.Collaborators{
		Apps:         s.state,
		Game:         s.state,
		Notifier:     s.state,
		Stakeholders: s.state,
		Contacts:     s.state,
		Catalog:      p.content,
		Inventory:    s.state,
		Constraints:  s.state,
		Objectives:   s.state,
	},
		consequence.WithLogger(s.log),
		consequence.WithClock(p.now),
		consequence.WithIDGenerator(p.newID),
		consequence.WithNotificationDuration(p.cfg.NotificationDurationMs),
		consequence.WithObserver(s.onConsequence),
	)
	sched := engine.Scheduler(timerScheduler{loop: s.loop})
	if p.scheduler != nil {
		sched = p.scheduler(s.loop)
	}
	s.engine = engine.New(engine.Options{
		Content:          p.content,
		Dispatcher:       s.dispatch,
		Scheduler:        sched,
		Logger:           s.log,
		Now:              p.now,
		Delay:            p.cfg.Delay,
		AutoAdvanceDelay: p.cfg.AutoAdvanceDelay,
		Strict:           p.cfg.Strict,
		Listeners:        []func(engine.Event){s.onEngineEvent},
	})
	s.tasks = doctasks.New(p.content, s.engine, s.state, s.log)
	s.processes = processmap.New(p.content, s.state, s.engine,
		processmap.WithLogger(s.log),
		processmap.WithClock(p.now),
		processmap.WithIDGenerator(p.newID),
	)
	return s
}

func (s *Session) ID() string { return s.id }

// Info returns the session record.
func (s *Session) Info() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Session{
		ID:        s.id,
		PlayerID:  s.playerID,
		Status:    s.status,
		CreatedAt: s.createdAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.updatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Begin opens a contact: it marks the contact read and starts or resumes its
// conversation.
func (s *Session) Begin(ctx context.Context, contactID string) (engine.ConversationState, error) {
	return call(ctx, s.loop, func() (engine.ConversationState, error) {
		if err := s.requireUnlocked(contactID); err != nil {
			return engine.ConversationState{}, err
		}
		s.viewing = contactID
		if err := s.state.MarkContactRead(contactID); err != nil {
			s.log.Debug("mark read failed", zap.String("contact", contactID), zap.Error(err))
		}
		s.engine.Begin(contactID)
		out, _ := s.engine.Conversation(contactID)
		return out, nil
	})
}

// Leave stops viewing the open contact so later messages count as unread.
func (s *Session) Leave(ctx context.Context) error {
	return s.loop.Do(ctx, func() { s.viewing = "" })
}

type step struct {
	conv engine.ConversationState
	ok   bool
}

// Advance fast-forwards a pending reveal.
func (s *Session) Advance(ctx context.Context, contactID string) (engine.ConversationState, bool, error) {
	r, err := call(ctx, s.loop, func() (step, error) {
		if err := s.requireUnlocked(contactID); err != nil {
			return step{}, err
		}
		advanced := s.engine.Advance(contactID)
		out, _ := s.engine.Conversation(contactID)
		return step{conv: out, ok: advanced}, nil
	})
	return r.conv, r.ok, err
}

// Choose selects a choice on the contact's current node. accepted is false
// when the conversation was not awaiting that choice.
func (s *Session) Choose(ctx context.Context, contactID, choiceID string) (engine.ConversationState, bool, error) {
	r, err := call(ctx, s.loop, func() (step, error) {
		if err := s.requireUnlocked(contactID); err != nil {
			return step{}, err
		}
		accepted := s.engine.SelectChoice(contactID, choiceID)
		out, _ := s.engine.Conversation(contactID)
		return step{conv: out, ok: accepted}, nil
	})
	return r.conv, r.ok, err
}

type conversationRead struct {
	conv engine.ConversationState
	node *content.Node
}

// Conversation returns the contact's state and, when it is waiting for the
// player, the node whose choices are on offer.
func (s *Session) Conversation(ctx context.Context, contactID string) (engine.ConversationState, *content.Node, error) {
	r, err := call(ctx, s.loop, func() (conversationRead, error) {
		out, ok := s.engine.Conversation(contactID)
		if !ok {
			if _, known := s.state.Contact(contactID); !known {
				return conversationRead{}, fmt.Errorf("%w: %s", gamestate.ErrUnknownContact, contactID)
			}
			out = engine.ConversationState{ContactID: contactID, Phase: engine.PhaseIdle, Messages: []engine.Message{}}
		}
		r := conversationRead{conv: out}
		if out.AwaitingChoice {
			r.node, _ = s.engine.CurrentNode(contactID)
		}
		return r, nil
	})
	return r.conv, r.node, err
}

func (s *Session) Contacts(ctx context.Context) ([]domain.Contact, error) {
	return call(ctx, s.loop, func() ([]domain.Contact, error) { return s.state.Contacts(), nil })
}

func (s *Session) View(ctx context.Context) (View, error) {
	v, err := call(ctx, s.loop, func() (View, error) {
		v := View{
			Game:           s.state.Snapshot(),
			Halted:         s.engine.Halted(),
			Conversations:  s.engine.Conversations(),
			CompletedTasks: s.tasks.Completed(),
			Processes: ProcessView{
				Documents: s.processes.Documents(),
				History:   s.processes.History(),
			},
		}
		if sel, ok := s.processes.Selection(); ok {
			v.Processes.Selection = &sel
		}
		return v, nil
	})
	if err != nil {
		return View{}, err
	}
	v.Session = s.Info()
	return v, nil
}

func (s *Session) DismissNotification(ctx context.Context, id string) error {
	_, err := call(ctx, s.loop, func() (struct{}, error) {
		if err := s.state.DismissNotification(id); err != nil {
			return struct{}{}, err
		}
		s.record(EventNotificationDismiss, "", id, map[string]any{"notification_id": id})
		return struct{}{}, nil
	})
	return err
}

// ActiveTask returns the document's current highlight task for the
// player's level.
func (s *Session) ActiveTask(ctx context.Context, documentID string) (content.DocumentTask, error) {
	return call(ctx, s.loop, func() (content.DocumentTask, error) {
		task, ok := s.tasks.ActiveTask(documentID, s.state.Level())
		if !ok {
			return task, fmt.Errorf("%w: %s", ErrNoActiveTask, documentID)
		}
		return task, nil
	})
}

// SubmitHighlight answers a document task. Its rewards go through the
// engine, so a task that ends the game halts every conversation.
func (s *Session) SubmitHighlight(ctx context.Context, taskID, highlightID string) (doctasks.Feedback, error) {
	return call(ctx, s.loop, func() (doctasks.Feedback, error) {
		fb, err := s.tasks.Submit(taskID, highlightID, s.state.Level())
		if err != nil {
			return fb, err
		}
		s.record(EventTaskAttempt, "", taskID, map[string]any{
			"highlight_id": highlightID,
			"correct":      fb.Correct,
			"attempts":     fb.Attempts,
		})
		return fb, nil
	})
}

// SelectProcess puts a process card on the bench.
func (s *Session) SelectProcess(ctx context.Context, processID string) (processmap.Selection, error) {
	return call(ctx, s.loop, func() (processmap.Selection, error) {
		return s.processes.Select(processID)
	})
}

// AssignInput slots an inventory item or generated document into an input
// of the selected process.
func (s *Session) AssignInput(ctx context.Context, slotID, documentID string) (processmap.Selection, error) {
	return call(ctx, s.loop, func() (processmap.Selection, error) {
		return s.processes.Assign(slotID, documentID)
	})
}

func (s *Session) UnassignInput(ctx context.Context, slotID string) (processmap.Selection, error) {
	return call(ctx, s.loop, func() (processmap.Selection, error) {
		return s.processes.Unassign(slotID)
	})
}

// ClearProcess takes the selected process off the bench.
func (s *Session) ClearProcess(ctx context.Context) error {
	return s.loop.Do(ctx, func() { s.processes.Clear() })
}

type processRun struct {
	exec processmap.Execution
	docs []processmap.Document
}

// ExecuteProcess runs the selected process and returns the documents it
// generated.
func (s *Session) ExecuteProcess(ctx context.Context) (processmap.Execution, []processmap.Document, error) {
	r, err := call(ctx, s.loop, func() (processRun, error) {
		exec, docs, err := s.processes.Execute()
		if err != nil {
			return processRun{}, err
		}
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		s.record(EventProcessExecuted, "", exec.ProcessID, map[string]any{
			"execution_id": exec.ID,
			"quality":      exec.Quality,
			"documents":    ids,
		})
		return processRun{exec: exec, docs: docs}, nil
	})
	return r.exec, r.docs, err
}

// Reset returns the whole game to its starting point and cancels every
// pending reveal.
func (s *Session) Reset(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		s.state.Reset()
		s.tasks.Reset()
		s.processes.Reset()
		s.viewing = ""
		s.engine.ResetAll()
		s.setStatus(StatusActive)
		s.record(EventSessionReset, "", "", nil)
	})
}

// Subscribe streams updates until cancel is called or the session closes.
// Slow subscribers lose updates rather than block the game.
func (s *Session) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, defaultSubscriberBuffer)
	if s.status == StatusClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the session loop and ends every subscription.
func (s *Session) Close() {
	s.loop.Close()
	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	s.setStatus(StatusClosed)
}

func (s *Session) requireUnlocked(contactID string) error {
	c, ok := s.state.Contact(contactID)
	if !ok {
		return fmt.Errorf("%w: %s", gamestate.ErrUnknownContact, contactID)
	}
	if !c.IsUnlocked {
		return fmt.Errorf("%w: %s", ErrContactLocked, contactID)
	}
	return nil
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	if s.status == status || s.status == StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.updatedAt = s.now()
	s.mu.Unlock()
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.store.UpdateSessionStatus(ctx, s.id, status); err != nil {
		s.log.Warn("persist session status failed", zap.String("status", status), zap.Error(err))
	}
}

func (s *Session) onEngineEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventMessage:
		if ev.Message != nil {
			if err := s.state.RecordMessage(ev.ContactID, ev.Message.Text, s.viewing == ev.ContactID); err != nil {
				s.log.Debug("message preview skipped", zap.String("contact", ev.ContactID), zap.Error(err))
			}
		}
	case engine.EventHalted:
		s.setStatus(StatusGameOver)
	}
	payload := map[string]any{}
	if ev.NodeID != "" {
		payload["node_id"] = ev.NodeID
	}
	if ev.ChoiceID != "" {
		payload["choice_id"] = ev.ChoiceID
	}
	if ev.Phase != "" {
		payload["phase"] = string(ev.Phase)
	}
	if ev.Message != nil {
		payload["speaker"] = ev.Message.Speaker
		payload["text"] = ev.Message.Text
		payload["timestamp_ms"] = ev.Message.TimestampMs
	}
	if ev.Detail != "" {
		payload["detail"] = ev.Detail
	}
	entity := ev.NodeID
	if ev.ChoiceID != "" {
		entity = ev.ChoiceID
	}
	if ev.Type == engine.EventPhase {
		s.publish(string(ev.Type), ev.ContactID, payload)
		return
	}
	s.record(string(ev.Type), ev.ContactID, entity, payload)
}

func (s *Session) onConsequence(c consequence.Consequence) {
	s.record(EventConsequence, "", string(c.Kind()), consequence.Describe(c))
}

// record journals an event and streams it to subscribers.
func (s *Session) record(evtType, contactID, entityID string, payload map[string]any) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := s.store.AppendEvent(ctx, domain.Event{
			Type:      evtType,
			SessionID: s.id,
			ContactID: optional(contactID),
			EntityID:  optional(entityID),
			Payload:   payload,
		})
		cancel()
		if err != nil {
			s.log.Warn("journal append failed", zap.String("type", evtType), zap.Error(err))
		}
	}
	s.publish(evtType, contactID, payload)
}

func (s *Session) publish(evtType, contactID string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	u := Update{Seq: s.seq, Type: evtType, ContactID: contactID, Payload: payload}
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Warn("subscriber lagging, update dropped", zap.Int("subscriber", id), zap.Int64("seq", u.Seq))
		}
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
