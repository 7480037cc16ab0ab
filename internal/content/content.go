package content

import (
	"errors"
	"fmt"
	"sort"

	"ascend/internal/consequence"
	"ascend/internal/domain"
)

var (
	ErrTreeNotFound = errors.New("dialogue tree not found")
	ErrNodeNotFound = errors.New("dialogue node not found")
	ErrTaskNotFound    = errors.New("document task not found")
	ErrProcessNotFound = errors.New("process not found")
)

// ChoiceStyle is a cosmetic hint for rendering a choice.
type ChoiceStyle string

const (
	StyleSafe    ChoiceStyle = "safe"
	StyleRisky   ChoiceStyle = "risky"
	StyleNeutral ChoiceStyle = "neutral"
)

type Choice struct {
	ID           string           `json:"id"`
	Label        string           `json:"label"`
	Style        ChoiceStyle      `json:"style" enum:"safe,risky,neutral"`
	Consequences consequence.List `json:"-"`
	// NextNodeID is empty when the choice ends the conversation.
	NextNodeID string `json:"next_node_id,omitempty"`
}

type Node struct {
	ID                string           `json:"id"`
	Speaker           string           `json:"speaker"`
	Avatar            string           `json:"avatar,omitempty"`
	Text              string           `json:"text"`
	Choices           []Choice         `json:"choices,omitempty"`
	AutoAdvanceNodeID string           `json:"auto_advance_node_id,omitempty"`
	RevealDelayMs     int              `json:"reveal_delay_ms"`
	Consequences      consequence.List `json:"-"`
}

// Choice returns the choice with id, if the node offers it.
func (n *Node) Choice(id string) (Choice, bool) {
	for _, c := range n.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Terminal reports whether the conversation stops at this node.
func (n *Node) Terminal() bool {
	return len(n.Choices) == 0 && n.AutoAdvanceNodeID == ""
}

type Tree struct {
	ID          string `json:"id"`
	ContactID   string `json:"contact_id"`
	StartNodeID string `json:"start_node_id"`
	nodes       map[string]*Node
	order       []string
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in tree %s", ErrNodeNotFound, id, t.ID)
	}
	return n, nil
}

// Nodes returns the nodes in authoring order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Reason is the title and lesson shown for a game-over reason code.
type Reason struct {
	Title  string `json:"title" yaml:"title"`
	Lesson string `json:"lesson" yaml:"lesson"`
}

type DocumentTask struct {
	ID                  string            `json:"id"`
	DocumentID          string            `json:"document_id"`
	TaskType            string            `json:"task_type"`
	Prompt              string            `json:"prompt"`
	Hint                string            `json:"hint,omitempty"`
	CorrectHighlightIDs []string          `json:"-"`
	IncorrectFeedback   map[string]string `json:"-"`
	DefaultIncorrect    string            `json:"-"`
	SuccessFeedback     string            `json:"-"`
	LevelID             int               `json:"level_id"`
	UnlockCondition     string            `json:"unlock_condition,omitempty"`
	Consequences        consequence.List  `json:"-"`
}

// QualityFormula selects how a process output's quality is derived from
// the quality of its inputs.
type QualityFormula string

const (
	// FormulaWeighted weighs each input by its quality impact.
	FormulaWeighted QualityFormula = "weighted"
	// FormulaAverage is the plain mean of the input qualities.
	FormulaAverage QualityFormula = "average"
)

func (f QualityFormula) Valid() bool {
	return f == FormulaWeighted || f == FormulaAverage
}

// ProcessInput is a slot a document can be assigned to before execution.
type ProcessInput struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	DocumentType  string `json:"document_type" yaml:"document_type"`
	Required      bool   `json:"required" yaml:"required"`
	QualityImpact int    `json:"quality_impact" yaml:"quality_impact"`
}

type ProcessOutput struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	DocumentType string         `json:"document_type" yaml:"document_type"`
	Formula      QualityFormula `json:"quality_formula" yaml:"quality_formula" enum:"weighted,average"`
}

// Process is a PMBOK process card: inputs in, documents out.
type Process struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Group          string          `json:"process_group" yaml:"group"`
	KnowledgeArea  string          `json:"knowledge_area" yaml:"knowledge_area"`
	Description    string          `json:"description,omitempty" yaml:"description"`
	LevelRequired  int             `json:"level_required" yaml:"level"`
	Inputs         []ProcessInput  `json:"inputs" yaml:"inputs"`
	OptionalInputs []ProcessInput  `json:"optional_inputs,omitempty" yaml:"optional_inputs"`
	Outputs        []ProcessOutput `json:"outputs" yaml:"outputs"`
}

// Slot finds an input slot, required or optional, by id.
func (p Process) Slot(id string) (ProcessInput, bool) {
	for _, in := range p.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	for _, in := range p.OptionalInputs {
		if in.ID == id {
			return in, true
		}
	}
	return ProcessInput{}, false
}

// Store is the immutable, indexed content pack. Safe for concurrent reads.
type Store struct {
	trees        map[string]*Tree
	byContact    map[string]*Tree
	treeOrder    []string
	contacts     []domain.Contact
	stakeholders []domain.Stakeholder
	decomps      map[string][]domain.Stakeholder
	evidence     map[string]domain.EvidenceItem
	evidenceList []domain.EvidenceItem
	tasks        []DocumentTask
	taskIdx      map[string]int
	processes    []Process
	processIdx   map[string]int
	reasons      map[string]Reason
	educational  map[string]string
	warnings     []string
}

// TreeByContact returns the single tree bound to contactID.
func (s *Store) TreeByContact(contactID string) (*Tree, error) {
	t, ok := s.byContact[contactID]
	if !ok {
		return nil, fmt.Errorf("%w: contact %s", ErrTreeNotFound, contactID)
	}
	return t, nil
}

// Tree returns a tree by its id.
func (s *Store) Tree(id string) (*Tree, error) {
	t, ok := s.trees[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, id)
	}
	return t, nil
}

// Trees lists trees in load order.
func (s *Store) Trees() []*Tree {
	out := make([]*Tree, 0, len(s.treeOrder))
	for _, id := range s.treeOrder {
		out = append(out, s.trees[id])
	}
	return out
}

// EvidenceItem looks up the canonical evidence definition.
func (s *Store) EvidenceItem(id string) (domain.EvidenceItem, bool) {
	item, ok := s.evidence[id]
	return item, ok
}

func (s *Store) Evidence() []domain.EvidenceItem {
	return append([]domain.EvidenceItem(nil), s.evidenceList...)
}

func (s *Store) Contacts() []domain.Contact {
	return append([]domain.Contact(nil), s.contacts...)
}

func (s *Store) Stakeholders() []domain.Stakeholder {
	return append([]domain.Stakeholder(nil), s.stakeholders...)
}

// Decompositions returns a copy of the parent id to children mapping.
func (s *Store) Decompositions() map[string][]domain.Stakeholder {
	out := make(map[string][]domain.Stakeholder, len(s.decomps))
	for k, v := range s.decomps {
		out[k] = append([]domain.Stakeholder(nil), v...)
	}
	return out
}

func (s *Store) Tasks() []DocumentTask {
	return append([]DocumentTask(nil), s.tasks...)
}

func (s *Store) Task(id string) (DocumentTask, error) {
	i, ok := s.taskIdx[id]
	if !ok {
		return DocumentTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return s.tasks[i], nil
}

// Processes lists process cards in load order.
func (s *Store) Processes() []Process {
	return append([]Process(nil), s.processes...)
}

func (s *Store) Process(id string) (Process, error) {
	i, ok := s.processIdx[id]
	if !ok {
		return Process{}, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return s.processes[i], nil
}

// Reason returns the display text for a game-over reason code.
func (s *Store) Reason(code string) (Reason, bool) {
	r, ok := s.reasons[code]
	return r, ok
}

// Reasons returns the game-over reason codes, sorted.
func (s *Store) Reasons() []string {
	out := make([]string, 0, len(s.reasons))
	for k := range s.reasons {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Educational returns the explanation shown after a task of the given type.
func (s *Store) Educational(taskType string) string {
	return s.educational[taskType]
}

// Warnings lists non-fatal content issues found at load.
func (s *Store) Warnings() []string {
	return append([]string(nil), s.warnings...)
}
