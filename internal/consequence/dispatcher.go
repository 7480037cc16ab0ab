package consequence

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ascend/internal/domain"
)

// Collaborator interfaces. Each consequence kind maps to exactly one call.
// Implementations return an error when the target id is unknown; the
// dispatcher logs it and moves on.

type Apps interface {
	UnlockApp(appID string) error
	UnlockProcess(processID string) error
}

type Game interface {
	EndGame(reason, message string) error
}

type Notifier interface {
	Notify(n domain.Notification) error
}

type Stakeholders interface {
	UpdateStakeholder(id string, identified *bool, attitude domain.Attitude) error
	IdentifyStakeholder(id string) error
	DecomposeStakeholder(parentID string) ([]string, error)
}

type Contacts interface {
	UnlockContact(id string, unread bool) error
}

type Catalog interface {
	EvidenceItem(id string) (domain.EvidenceItem, bool)
}

type Inventory interface {
	AddItem(item domain.EvidenceItem) error
}

type Constraints interface {
	AdjustConstraint(metric domain.Metric, delta int) (int, error)
}

type Objectives interface {
	CompleteObjective(id string) error
}

// Collaborators groups the game-state services a Dispatcher writes to.
// A nil member turns its consequence kinds into logged no-ops.
type Collaborators struct {
	Apps         Apps
	Game         Game
	Notifier     Notifier
	Stakeholders Stakeholders
	Contacts     Contacts
	Catalog      Catalog
	Inventory    Inventory
	Constraints  Constraints
	Objectives   Objectives
}

// Applier is what the traversal engine needs from a dispatcher.
type Applier interface {
	Apply(c Consequence)
}

type Dispatcher struct {
	c                    Collaborators
	log                  *zap.Logger
	newID                func() string
	now                  func() time.Time
	notificationDuration int
	observe              func(Consequence)
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithNotificationDuration sets the display time used when a notification
// payload does not carry one.
func WithNotificationDuration(ms int) Option {
	return func(d *Dispatcher) { d.notificationDuration = ms }
}

// WithObserver registers fn to be called after each consequence is applied.
func WithObserver(fn func(Consequence)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

func NewDispatcher(c Collaborators, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		c:                    c,
		log:                  zap.NewNop(),
		newID:                uuid.NewString,
		now:                  time.Now,
		notificationDuration: 5000,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ApplyAll applies list in order.
func (d *Dispatcher) ApplyAll(list List) {
	for _, c := range list {
		d.Apply(c)
	}
}

// Apply performs the single collaborator call c maps to. It never panics on
// bad input and never reports failure to the caller.
func (d *Dispatcher) Apply(c Consequence) {
	if c == nil {
		return
	}
	log := d.log.With(zap.String("consequence", string(c.Kind())))
	if !d.wired(c) {
		log.Debug("no collaborator wired for consequence")
		return
	}
	var err error
	switch v := c.(type) {
	case UnlockApp:
		err = d.c.Apps.UnlockApp(v.AppID)
	case UnlockProcess:
		err = d.c.Apps.UnlockProcess(v.ProcessID)
	case GameOver:
		err = d.c.Game.EndGame(v.Reason, v.Message)
	case AddNotification:
		err = d.c.Notifier.Notify(d.notification(v))
	case UpdateStakeholder:
		err = d.c.Stakeholders.UpdateStakeholder(v.StakeholderID, v.Identified, v.Attitude)
	case AddContact:
		err = d.c.Contacts.UnlockContact(v.ContactID, true)
	case AddInventory:
		d.addInventory(log, v.Items)
	case IdentifyStakeholder:
		err = d.c.Stakeholders.IdentifyStakeholder(v.StakeholderID)
	case DecomposeStakeholder:
		var children []string
		children, err = d.c.Stakeholders.DecomposeStakeholder(v.ParentID)
		if err == nil {
			log.Debug("stakeholder decomposed", zap.String("parent", v.ParentID), zap.Strings("children", children))
		}
	case UpdateConstraint:
		var value int
		value, err = d.c.Constraints.AdjustConstraint(v.Metric, v.Delta)
		if err == nil {
			log.Debug("constraint adjusted", zap.String("metric", string(v.Metric)), zap.Int("delta", v.Delta), zap.Int("value", value))
		}
	case CompleteObjective:
		err = d.c.Objectives.CompleteObjective(v.ObjectiveID)
	default:
		log.Debug("ignoring unknown consequence")
		return
	}
	if err != nil {
		log.Warn("consequence skipped", zap.Error(err))
		return
	}
	if d.observe != nil {
		d.observe(c)
	}
}

func (d *Dispatcher) wired(c Consequence) bool {
	switch c.(type) {
	case UnlockApp, UnlockProcess:
		return d.c.Apps != nil
	case GameOver:
		return d.c.Game != nil
	case AddNotification:
		return d.c.Notifier != nil
	case UpdateStakeholder, IdentifyStakeholder, DecomposeStakeholder:
		return d.c.Stakeholders != nil
	case AddContact:
		return d.c.Contacts != nil
	case AddInventory:
		return d.c.Inventory != nil && d.c.Catalog != nil
	case UpdateConstraint:
		return d.c.Constraints != nil
	case CompleteObjective:
		return d.c.Objectives != nil
	}
	return true
}

func (d *Dispatcher) addInventory(log *zap.Logger, ids []string) {
	for _, id := range ids {
		item, ok := d.c.Catalog.EvidenceItem(id)
		if !ok {
			log.Warn("inventory item not in catalog", zap.String("item", id))
			continue
		}
		if err := d.c.Inventory.AddItem(item); err != nil {
			log.Warn("inventory item skipped", zap.String("item", id), zap.Error(err))
		}
	}
}

func (d *Dispatcher) notification(v AddNotification) domain.Notification {
	severity := v.Severity
	switch severity {
	case domain.SeverityInfo, domain.SeveritySuccess, domain.SeverityWarning, domain.SeverityError:
	default:
		severity = domain.SeverityInfo
	}
	duration := v.DurationMs
	if duration <= 0 {
		duration = d.notificationDuration
	}
	return domain.Notification{
		ID:         d.newID(),
		Title:      v.Title,
		Message:    v.Message,
		Severity:   severity,
		DurationMs: duration,
		CreatedAt:  d.now().UTC().Format(time.RFC3339),
	}
}
