package consequence

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"ascend/internal/domain"
)

// Kind identifies a consequence variant.
type Kind string

const (
	KindUnlockApp            Kind = "unlock_app"
	KindUnlockProcess        Kind = "unlock_process"
	KindGameOver             Kind = "game_over"
	KindAddNotification      Kind = "add_notification"
	KindUpdateStakeholder    Kind = "update_stakeholder"
	KindAddContact           Kind = "add_contact"
	KindAddInventory         Kind = "add_inventory"
	KindIdentifyStakeholder  Kind = "identify_stakeholder"
	KindDecomposeStakeholder Kind = "decompose_stakeholder"
	KindUpdateConstraint     Kind = "update_constraint"
	KindCompleteObjective    Kind = "complete_objective"
)

// Consequence is a declarative side effect attached to a choice, a node or a
// document task. The set of variants is closed: only types in this package
// implement it.
type Consequence interface {
	Kind() Kind
	sealed()
}

type UnlockApp struct {
	AppID string `json:"app_id" yaml:"app_id"`
}

type UnlockProcess struct {
	ProcessID string `json:"process_id" yaml:"process_id"`
}

type GameOver struct {
	Reason  string `json:"reason" yaml:"reason"`
	Message string `json:"message" yaml:"message"`
}

type AddNotification struct {
	Title      string          `json:"title" yaml:"title"`
	Message    string          `json:"message" yaml:"message"`
	Severity   domain.Severity `json:"severity" yaml:"severity"`
	DurationMs int             `json:"duration_ms,omitempty" yaml:"duration_ms"`
}

// UpdateStakeholder sets the identified flag, the attitude, or both.
type UpdateStakeholder struct {
	StakeholderID string          `json:"stakeholder_id" yaml:"stakeholder_id"`
	Identified    *bool           `json:"identified,omitempty" yaml:"identified"`
	Attitude      domain.Attitude `json:"attitude,omitempty" yaml:"attitude"`
}

type AddContact struct {
	ContactID string `json:"contact_id" yaml:"contact_id"`
}

type AddInventory struct {
	Items []string `json:"items" yaml:"items"`
}

type IdentifyStakeholder struct {
	StakeholderID string `json:"stakeholder_id" yaml:"stakeholder_id"`
}

type DecomposeStakeholder struct {
	ParentID string `json:"parent_id" yaml:"parent_id"`
}

type UpdateConstraint struct {
	Metric domain.Metric `json:"metric" yaml:"metric"`
	Delta  int           `json:"delta" yaml:"delta"`
}

type CompleteObjective struct {
	ObjectiveID string `json:"objective_id" yaml:"objective_id"`
}

// Unknown preserves a consequence whose type this build does not know.
// Dispatching it does nothing.
type Unknown struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (UnlockApp) Kind() Kind            { return KindUnlockApp }
func (UnlockProcess) Kind() Kind        { return KindUnlockProcess }
func (GameOver) Kind() Kind             { return KindGameOver }
func (AddNotification) Kind() Kind      { return KindAddNotification }
func (UpdateStakeholder) Kind() Kind    { return KindUpdateStakeholder }
func (AddContact) Kind() Kind           { return KindAddContact }
func (AddInventory) Kind() Kind         { return KindAddInventory }
func (IdentifyStakeholder) Kind() Kind  { return KindIdentifyStakeholder }
func (DecomposeStakeholder) Kind() Kind { return KindDecomposeStakeholder }
func (UpdateConstraint) Kind() Kind     { return KindUpdateConstraint }
func (CompleteObjective) Kind() Kind    { return KindCompleteObjective }
func (u Unknown) Kind() Kind            { return Kind(u.Type) }

func (UnlockApp) sealed()            {}
func (UnlockProcess) sealed()        {}
func (GameOver) sealed()             {}
func (AddNotification) sealed()      {}
func (UpdateStakeholder) sealed()    {}
func (AddContact) sealed()           {}
func (AddInventory) sealed()         {}
func (IdentifyStakeholder) sealed()  {}
func (DecomposeStakeholder) sealed() {}
func (UpdateConstraint) sealed()     {}
func (CompleteObjective) sealed()    {}
func (Unknown) sealed()              {}

// List is an ordered sequence of consequences decoded from content YAML.
type List []Consequence

// UnmarshalYAML decodes entries of the form {type: <kind>, payload: {...}}.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: consequences must be a list", value.Line)
	}
	out := make(List, 0, len(value.Content))
	for _, item := range value.Content {
		c, err := decode(item)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	*l = out
	return nil
}

func decode(n *yaml.Node) (Consequence, error) {
	var raw struct {
		Type    string    `yaml:"type"`
		Payload yaml.Node `yaml:"payload"`
	}
	if err := n.Decode(&raw); err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("line %d: consequence type is required", n.Line)
	}
	p := &raw.Payload
	switch Kind(raw.Type) {
	case KindUnlockApp:
		return decodePayload[UnlockApp](p)
	case KindUnlockProcess:
		return decodePayload[UnlockProcess](p)
	case KindGameOver:
		return decodePayload[GameOver](p)
	case KindAddNotification:
		return decodePayload[AddNotification](p)
	case KindUpdateStakeholder:
		return decodePayload[UpdateStakeholder](p)
	case KindAddContact:
		return decodePayload[AddContact](p)
	case KindAddInventory:
		return decodePayload[AddInventory](p)
	case KindIdentifyStakeholder:
		return decodePayload[IdentifyStakeholder](p)
	case KindDecomposeStakeholder:
		return decodePayload[DecomposeStakeholder](p)
	case KindUpdateConstraint:
		return decodePayload[UpdateConstraint](p)
	case KindCompleteObjective:
		return decodePayload[CompleteObjective](p)
	}
	u := Unknown{Type: raw.Type}
	if p.Kind != 0 {
		if err := p.Decode(&u.Payload); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.Line, err)
		}
	}
	return u, nil
}

func decodePayload[T Consequence](n *yaml.Node) (Consequence, error) {
	var v T
	if n.Kind != 0 {
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %s payload: %w", n.Line, v.Kind(), err)
		}
	}
	return v, nil
}

// Check reports a payload that can never take effect. Content loading turns
// these into warnings.
func Check(c Consequence) error {
	switch v := c.(type) {
	case UnlockApp:
		if v.AppID == "" {
			return fmt.Errorf("unlock_app without app_id")
		}
	case UnlockProcess:
		if v.ProcessID == "" {
			return fmt.Errorf("unlock_process without process_id")
		}
	case GameOver:
		if v.Reason == "" {
			return fmt.Errorf("game_over without reason")
		}
	case UpdateStakeholder:
		if v.StakeholderID == "" {
			return fmt.Errorf("update_stakeholder without stakeholder_id")
		}
		if v.Attitude != "" && !v.Attitude.Valid() {
			return fmt.Errorf("update_stakeholder with unknown attitude %q", v.Attitude)
		}
		if v.Identified == nil && v.Attitude == "" {
			return fmt.Errorf("update_stakeholder %s changes nothing", v.StakeholderID)
		}
	case AddContact:
		if v.ContactID == "" {
			return fmt.Errorf("add_contact without contact_id")
		}
	case AddInventory:
		if len(v.Items) == 0 {
			return fmt.Errorf("add_inventory without items")
		}
	case IdentifyStakeholder:
		if v.StakeholderID == "" {
			return fmt.Errorf("identify_stakeholder without stakeholder_id")
		}
	case DecomposeStakeholder:
		if v.ParentID == "" {
			return fmt.Errorf("decompose_stakeholder without parent_id")
		}
	case UpdateConstraint:
		if !v.Metric.Valid() {
			return fmt.Errorf("update_constraint with unknown metric %q", v.Metric)
		}
	case CompleteObjective:
		if v.ObjectiveID == "" {
			return fmt.Errorf("complete_objective without objective_id")
		}
	case Unknown:
		return fmt.Errorf("unknown consequence type %q", v.Type)
	}
	return nil
}

// Describe renders c for the event journal and the API.
func Describe(c Consequence) map[string]any {
	return map[string]any{"type": string(c.Kind()), "payload": c}
}
