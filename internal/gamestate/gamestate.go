package gamestate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"ascend/internal/domain"
)

var (
	ErrUnknownStakeholder  = errors.New("unknown stakeholder")
	ErrUnknownContact      = errors.New("unknown contact")
	ErrUnknownMetric       = errors.New("unknown constraint metric")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrNoDecomposition     = errors.New("stakeholder has no decomposition")
	ErrEmptyID             = errors.New("empty id")
)

const (
	constraintMin = 0
	constraintMax = 100
	previewLength = 50
)

// Seed is the initial state a session starts from and returns to on reset.
type Seed struct {
	Level            int
	LevelTitle       string
	Constraints      domain.Constraints
	UnlockedApps     []string
	UnlockedContacts []string
	Contacts         []domain.Contact
	Stakeholders     []domain.Stakeholder
	Decompositions   map[string][]domain.Stakeholder
	// Reasons maps a game-over reason code to its title and lesson.
	Reasons map[string]Reason
}

type Reason struct {
	Title  string
	Lesson string
}

// State holds the collaborators a session's consequences write to. It is not
// safe for concurrent use; a session serializes all access.
type State struct {
	seed Seed
	now  func() time.Time

	level       int
	levelTitle  string
	constraints domain.Constraints
	apps        []string
	processes   []string
	inventory   []domain.EvidenceItem
	stakeholder []domain.Stakeholder
	contacts    []domain.Contact
	notes       []domain.Notification
	objectives  map[string]bool
	gameOver    *domain.GameOver
}

type Option func(*State)

func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

func New(seed Seed, opts ...Option) *State {
	s := &State{seed: seed, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s
}

// Reset restores the seed.
func (s *State) Reset() {
	s.level = s.seed.Level
	s.levelTitle = s.seed.LevelTitle
	s.constraints = s.seed.Constraints
	s.apps = nil
	s.processes = nil
	for _, id := range s.seed.UnlockedApps {
		s.apps = appendUnique(s.apps, id)
	}
	s.inventory = nil
	s.stakeholder = append([]domain.Stakeholder(nil), s.seed.Stakeholders...)
	s.contacts = append([]domain.Contact(nil), s.seed.Contacts...)
	for _, id := range s.seed.UnlockedContacts {
		if i := s.contactIndex(id); i >= 0 {
			s.contacts[i].IsUnlocked = true
		}
	}
	s.notes = nil
	s.objectives = map[string]bool{}
	s.gameOver = nil
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func (s *State) UnlockApp(appID string) error {
	if appID == "" {
		return fmt.Errorf("unlock app: %w", ErrEmptyID)
	}
	s.apps = appendUnique(s.apps, appID)
	return nil
}

func (s *State) UnlockProcess(processID string) error {
	if processID == "" {
		return fmt.Errorf("unlock process: %w", ErrEmptyID)
	}
	s.processes = appendUnique(s.processes, processID)
	return nil
}

func (s *State) AppUnlocked(appID string) bool {
	for _, v := range s.apps {
		if v == appID {
			return true
		}
	}
	return false
}

func (s *State) ProcessUnlocked(processID string) bool {
	for _, v := range s.processes {
		if v == processID {
			return true
		}
	}
	return false
}

// EndGame records the first game over; later calls keep the original reason.
func (s *State) EndGame(reason, message string) error {
	if s.gameOver != nil {
		return nil
	}
	over := &domain.GameOver{
		Reason:  reason,
		Title:   "GAME OVER",
		Message: message,
		At:      s.now().UTC().Format(time.RFC3339),
	}
	if r, ok := s.seed.Reasons[reason]; ok {
		over.Title = r.Title
		over.Lesson = r.Lesson
	}
	s.gameOver = over
	return nil
}

func (s *State) GameOver() (domain.GameOver, bool) {
	if s.gameOver == nil {
		return domain.GameOver{}, false
	}
	return *s.gameOver, true
}

func (s *State) Notify(n domain.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notify: %w", ErrEmptyID)
	}
	s.notes = append(s.notes, n)
	return nil
}

// DismissNotification removes a queued notification.
func (s *State) DismissNotification(id string) error {
	for i, n := range s.notes {
		if n.ID == id {
			s.notes = append(s.notes[:i], s.notes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
}

func (s *State) Notifications() []domain.Notification {
	return append([]domain.Notification(nil), s.notes...)
}

// AddItem puts item in the inventory once; repeats are ignored.
func (s *State) AddItem(item domain.EvidenceItem) error {
	if item.ID == "" {
		return fmt.Errorf("add item: %w", ErrEmptyID)
	}
	if s.HasItem(item.ID) {
		return nil
	}
	s.inventory = append(s.inventory, item)
	return nil
}

func (s *State) HasItem(id string) bool {
	for _, it := range s.inventory {
		if it.ID == id {
			return true
		}
	}
	return false
}

func (s *State) Inventory() []domain.EvidenceItem {
	return append([]domain.EvidenceItem(nil), s.inventory...)
}

// AdjustConstraint adds delta to metric and clamps the result to [0,100].
func (s *State) AdjustConstraint(metric domain.Metric, delta int) (int, error) {
	if !metric.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	v := s.constraints.Get(metric) + delta
	if v < constraintMin {
		v = constraintMin
	}
	if v > constraintMax {
		v = constraintMax
	}
	s.constraints.Set(metric, v)
	return v, nil
}

func (s *State) Constraints() domain.Constraints {
	return s.constraints
}

func (s *State) CompleteObjective(id string) error {
	if id == "" {
		return fmt.Errorf("complete objective: %w", ErrEmptyID)
	}
	s.objectives[id] = true
	return nil
}

func (s *State) ObjectiveDone(id string) bool {
	return s.objectives[id]
}

func (s *State) Level() int { return s.level }

// SetLevel moves the player to another level.
func (s *State) SetLevel(level int, title string) {
	s.level = level
	if title != "" {
		s.levelTitle = title
	}
}

// Snapshot copies every collaborator into a read model.
func (s *State) Snapshot() domain.GameSnapshot {
	objectives := make([]string, 0, len(s.objectives))
	for id := range s.objectives {
		objectives = append(objectives, id)
	}
	sort.Strings(objectives)
	snap := domain.GameSnapshot{
		Level:             s.level,
		LevelTitle:        s.levelTitle,
		Constraints:       s.constraints,
		UnlockedApps:      append([]string{}, s.apps...),
		UnlockedProcesses: append([]string{}, s.processes...),
		Inventory:         append([]domain.EvidenceItem{}, s.inventory...),
		Stakeholders:      append([]domain.Stakeholder{}, s.stakeholder...),
		Contacts:          append([]domain.Contact{}, s.contacts...),
		Notifications:     append([]domain.Notification{}, s.notes...),
		Objectives:        objectives,
	}
	if s.gameOver != nil {
		over := *s.gameOver
		snap.GameOver = &over
	}
	return snap
}
