package engine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"ascend/internal/consequence"
	"ascend/internal/content"
)

// PlayerSpeaker is the speaker recorded on messages the player sends.
const PlayerSpeaker = "Player"

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseRevealing      Phase = "revealing"
	PhaseAwaitingChoice Phase = "awaiting_choice"
	PhaseAutoAdvancing  Phase = "auto_advancing"
)

type Message struct {
	NodeID         string `json:"node_id,omitempty"`
	ChoiceID       string `json:"choice_id,omitempty"`
	Speaker        string `json:"speaker"`
	Text           string `json:"text"`
	TimestampMs    int64  `json:"timestamp_ms"`
	IsPlayerChoice bool   `json:"is_player_choice"`
}

// ConversationState is the traversal state for one contact.
type ConversationState struct {
	ContactID      string    `json:"contact_id"`
	CurrentNodeID  string    `json:"current_node_id,omitempty"`
	Messages       []Message `json:"messages"`
	Phase          Phase     `json:"phase" enum:"idle,revealing,awaiting_choice,auto_advancing"`
	IsTyping       bool      `json:"is_typing"`
	AwaitingChoice bool      `json:"awaiting_choice"`
	// Ended is set when a choice with no next node closed the conversation.
	Ended bool `json:"ended"`
}

func (c *ConversationState) lastIsNode(nodeID string) bool {
	if len(c.Messages) == 0 {
		return false
	}
	last := c.Messages[len(c.Messages)-1]
	return !last.IsPlayerChoice && last.NodeID == nodeID
}

func (c *ConversationState) clone() ConversationState {
	out := *c
	out.Messages = append([]Message{}, c.Messages...)
	return out
}

type EventType string

const (
	EventMessage   EventType = "dialogue.message"
	EventChoice    EventType = "dialogue.choice"
	EventPhase     EventType = "dialogue.phase"
	EventEnded     EventType = "dialogue.ended"
	EventHalted    EventType = "dialogue.halted"
	EventDefect    EventType = "dialogue.content_defect"
	EventReset     EventType = "dialogue.reset"
	EventResetGame EventType = "dialogue.reset_all"
)

// Event describes one observable state change.
type Event struct {
	Type      EventType `json:"type"`
	ContactID string    `json:"contact_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	ChoiceID  string    `json:"choice_id,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Content is the lookup surface the engine needs from a content store.
type Content interface {
	TreeByContact(contactID string) (*content.Tree, error)
}

type Options struct {
	Content    Content
	Dispatcher consequence.Applier
	Scheduler  Scheduler
	Logger     *zap.Logger
	Now        func() time.Time
	// Delay converts a node's reveal delay into a duration.
	Delay func(ms int) time.Duration
	// AutoAdvanceDelay separates an auto-advancing node from its target.
	AutoAdvanceDelay time.Duration
	// Strict turns content defects into panics.
	Strict bool
	// Listeners are called synchronously and must not call back into the engine.
	Listeners []func(Event)
}

// pending tracks the one in-flight continuation a contact may have. It
// outlives the conversation so a reset can invalidate old continuations.
type pending struct {
	generation uint64
	cancel     func()
}

// Engine drives dialogue traversal. It is not safe for concurrent use: all
// entry points and scheduled continuations must run on one goroutine.
type Engine struct {
	content   Content
	dispatch  consequence.Applier
	sched     Scheduler
	log       *zap.Logger
	now       func() time.Time
	delay     func(ms int) time.Duration
	autoDelay time.Duration
	strict    bool
	listeners []func(Event)

	convs   map[string]*ConversationState
	pending map[string]*pending
	epoch   uint64
	halted  bool
}

func New(opts Options) *Engine {
	e := &Engine{
		content:   opts.Content,
		dispatch:  opts.Dispatcher,
		sched:     opts.Scheduler,
		log:       opts.Logger,
		now:       opts.Now,
		delay:     opts.Delay,
		autoDelay: opts.AutoAdvanceDelay,
		strict:    opts.Strict,
		listeners: opts.Listeners,
		convs:     map[string]*ConversationState{},
		pending:   map[string]*pending{},
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.delay == nil {
		e.delay = func(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
	}
	if e.sched == nil {
		e.sched = NewManualScheduler(e.now())
	}
	return e
}

// Subscribe adds a listener. Listeners are called synchronously.
func (e *Engine) Subscribe(fn func(Event)) {
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) emit(ev Event) {
	for _, fn := range e.listeners {
		fn(ev)
	}
}

func (e *Engine) emitPhase(c *ConversationState) {
	e.emit(Event{Type: EventPhase, ContactID: c.ContactID, NodeID: c.CurrentNodeID, Phase: c.Phase})
}

func (e *Engine) conversation(contactID string) *ConversationState {
	c, ok := e.convs[contactID]
	if !ok {
		c = &ConversationState{ContactID: contactID, Phase: PhaseIdle, Messages: []Message{}}
		e.convs[contactID] = c
	}
	return c
}

// Begin starts the contact's conversation at its tree's start node. It only
// has an effect when the conversation is idle and has never started;
// otherwise the existing state is resumed untouched.
func (e *Engine) Begin(contactID string) bool {
	if e.halted {
		e.log.Debug("begin ignored after game over", zap.String("contact", contactID))
		return false
	}
	c := e.conversation(contactID)
	if c.Phase != PhaseIdle || c.CurrentNodeID != "" || c.Ended {
		e.log.Debug("resuming conversation", zap.String("contact", contactID), zap.String("phase", string(c.Phase)))
		return false
	}
	tree, err := e.content.TreeByContact(contactID)
	if err != nil {
		e.defect(c, err)
		return false
	}
	c.CurrentNodeID = tree.StartNodeID
	e.reveal(c)
	return true
}

// Advance completes an in-progress reveal immediately instead of waiting
// for its delay. Outside the revealing phase it does nothing.
func (e *Engine) Advance(contactID string) bool {
	if e.halted {
		return false
	}
	c, ok := e.convs[contactID]
	if !ok || c.Phase != PhaseRevealing {
		return false
	}
	e.invalidate(contactID)
	e.completeReveal(c)
	return true
}

// SelectChoice records the player's choice, applies its consequences in
// order and moves to the choice's next node. Calls outside the awaiting
// phase, or naming a choice the current node does not offer, are ignored.
func (e *Engine) SelectChoice(contactID, choiceID string) bool {
	log := e.log.With(zap.String("contact", contactID), zap.String("choice", choiceID))
	if e.halted {
		log.Debug("choice ignored after game over")
		return false
	}
	c, ok := e.convs[contactID]
	if !ok || c.Phase != PhaseAwaitingChoice {
		log.Debug("choice ignored: not awaiting a choice")
		return false
	}
	node, ok := e.node(c)
	if !ok {
		return false
	}
	choice, ok := node.Choice(choiceID)
	if !ok {
		log.Debug("choice ignored: not offered by current node", zap.String("node", node.ID))
		return false
	}

	e.invalidate(contactID)
	c.AwaitingChoice = false
	msg := Message{
		ChoiceID:       choice.ID,
		Speaker:        PlayerSpeaker,
		Text:           choice.Label,
		TimestampMs:    e.now().UnixMilli(),
		IsPlayerChoice: true,
	}
	c.Messages = append(c.Messages, msg)
	e.emit(Event{Type: EventChoice, ContactID: contactID, NodeID: node.ID, ChoiceID: choice.ID, Message: &msg})

	for _, q := range choice.Consequences {
		e.apply(q)
	}

	c.CurrentNodeID = choice.NextNodeID
	switch {
	case choice.NextNodeID == "":
		c.Phase = PhaseIdle
		c.Ended = true
		e.emit(Event{Type: EventEnded, ContactID: contactID, NodeID: node.ID, Phase: c.Phase})
	case e.halted:
		c.Phase = PhaseIdle
		e.emitPhase(c)
	default:
		e.reveal(c)
	}
	return true
}

// Halt stops all traversal: every scheduled continuation becomes stale and
// no entry point has an effect until ResetAll. A game_over consequence
// halts the engine.
func (e *Engine) Halt() {
	if e.halted {
		return
	}
	e.halted = true
	e.epoch++
	for _, p := range e.pending {
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	for _, id := range e.contactIDs() {
		c := e.convs[id]
		if c.Phase == PhaseRevealing || c.Phase == PhaseAutoAdvancing {
			c.Phase = PhaseIdle
			c.IsTyping = false
			e.emitPhase(c)
		}
	}
	e.emit(Event{Type: EventHalted})
}

func (e *Engine) Halted() bool { return e.halted }

// Reset clears one contact's conversation and invalidates its continuation.
func (e *Engine) Reset(contactID string) {
	e.invalidate(contactID)
	delete(e.convs, contactID)
	e.emit(Event{Type: EventReset, ContactID: contactID})
}

// ResetAll clears every conversation, cancels every continuation and lifts
// a halt.
func (e *Engine) ResetAll() {
	e.epoch++
	for _, p := range e.pending {
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	e.convs = map[string]*ConversationState{}
	e.halted = false
	e.emit(Event{Type: EventResetGame})
}

// Conversation returns a copy of the contact's state.
func (e *Engine) Conversation(contactID string) (ConversationState, bool) {
	c, ok := e.convs[contactID]
	if !ok {
		return ConversationState{}, false
	}
	return c.clone(), true
}

// Conversations returns copies of every conversation, ordered by contact.
func (e *Engine) Conversations() []ConversationState {
	out := make([]ConversationState, 0, len(e.convs))
	for _, id := range e.contactIDs() {
		out = append(out, e.convs[id].clone())
	}
	return out
}

// CurrentNode returns the node the contact's conversation is positioned on.
func (e *Engine) CurrentNode(contactID string) (*content.Node, bool) {
	c, ok := e.convs[contactID]
	if !ok || c.CurrentNodeID == "" {
		return nil, false
	}
	tree, err := e.content.TreeByContact(contactID)
	if err != nil {
		return nil, false
	}
	n, err := tree.Node(c.CurrentNodeID)
	if err != nil {
		return nil, false
	}
	return n, true
}

func (e *Engine) contactIDs() []string {
	ids := make([]string, 0, len(e.convs))
	for id := range e.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) node(c *ConversationState) (*content.Node, bool) {
	tree, err := e.content.TreeByContact(c.ContactID)
	if err != nil {
		e.defect(c, err)
		return nil, false
	}
	n, err := tree.Node(c.CurrentNodeID)
	if err != nil {
		e.defect(c, err)
		return nil, false
	}
	return n, true
}

// reveal enters the revealing phase for the current node, or resolves it
// straight away when its message is already the last one in the log.
func (e *Engine) reveal(c *ConversationState) {
	n, ok := e.node(c)
	if !ok {
		return
	}
	if c.lastIsNode(n.ID) {
		e.resolve(c, n)
		return
	}
	c.Phase = PhaseRevealing
	c.IsTyping = true
	c.AwaitingChoice = false
	e.emitPhase(c)
	e.schedule(c.ContactID, e.delay(n.RevealDelayMs), e.completeReveal)
}

func (e *Engine) completeReveal(c *ConversationState) {
	n, ok := e.node(c)
	if !ok {
		return
	}
	c.IsTyping = false
	if !c.lastIsNode(n.ID) {
		msg := Message{
			NodeID:      n.ID,
			Speaker:     n.Speaker,
			Text:        n.Text,
			TimestampMs: e.now().UnixMilli(),
		}
		c.Messages = append(c.Messages, msg)
		e.emit(Event{Type: EventMessage, ContactID: c.ContactID, NodeID: n.ID, Message: &msg})
		for _, q := range n.Consequences {
			e.apply(q)
		}
		if e.halted {
			c.Phase = PhaseIdle
			e.emitPhase(c)
			return
		}
	}
	e.resolve(c, n)
}

// resolve decides what follows a revealed node. Choices win over
// auto-advance when a node carries both.
func (e *Engine) resolve(c *ConversationState, n *content.Node) {
	c.IsTyping = false
	switch {
	case len(n.Choices) > 0:
		c.Phase = PhaseAwaitingChoice
		c.AwaitingChoice = true
		e.emitPhase(c)
	case n.AutoAdvanceNodeID != "":
		c.Phase = PhaseAutoAdvancing
		c.AwaitingChoice = false
		e.emitPhase(c)
		next := n.AutoAdvanceNodeID
		e.schedule(c.ContactID, e.autoDelay, func(c *ConversationState) {
			c.CurrentNodeID = next
			e.reveal(c)
		})
	default:
		c.Phase = PhaseIdle
		c.AwaitingChoice = false
		e.emit(Event{Type: EventEnded, ContactID: c.ContactID, NodeID: n.ID, Phase: c.Phase})
	}
}

// Apply dispatches a consequence raised outside dialogue, such as a document
// task reward. A game over halts every conversation exactly as a dialogue
// one would.
func (e *Engine) Apply(q consequence.Consequence) { e.apply(q) }

func (e *Engine) apply(q consequence.Consequence) {
	if e.dispatch != nil {
		e.dispatch.Apply(q)
	}
	if q.Kind() == consequence.KindGameOver {
		e.Halt()
	}
}

func (e *Engine) slot(contactID string) *pending {
	p, ok := e.pending[contactID]
	if !ok {
		p = &pending{}
		e.pending[contactID] = p
	}
	return p
}

// invalidate makes any in-flight continuation for the contact stale.
func (e *Engine) invalidate(contactID string) {
	p := e.slot(contactID)
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// schedule replaces the contact's continuation with fn. fn only runs if
// neither the contact's generation nor the engine epoch moved in between.
func (e *Engine) schedule(contactID string, d time.Duration, fn func(*ConversationState)) {
	e.invalidate(contactID)
	p := e.slot(contactID)
	gen, epoch := p.generation, e.epoch
	p.cancel = e.sched.After(d, func() {
		cur := e.slot(contactID)
		c, ok := e.convs[contactID]
		if !ok || e.halted || cur.generation != gen || e.epoch != epoch {
			e.log.Debug("dropping stale continuation", zap.String("contact", contactID))
			return
		}
		cur.cancel = nil
		fn(c)
	})
}

func (e *Engine) defect(c *ConversationState, err error) {
	if e.strict {
		panic(fmt.Sprintf("content defect for %s: %v", c.ContactID, err))
	}
	e.log.Error("content defect; conversation halted", zap.String("contact", c.ContactID), zap.Error(err))
	c.Phase = PhaseIdle
	c.IsTyping = false
	c.AwaitingChoice = false
	e.emit(Event{Type: EventDefect, ContactID: c.ContactID, NodeID: c.CurrentNodeID, Detail: err.Error()})
}
