package processmap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ascend/internal/consequence"
	"ascend/internal/content"
	"ascend/internal/domain"
)

var (
	ErrProcessLocked   = errors.New("process is locked")
	ErrNoSelection     = errors.New("no process selected")
	ErrUnknownSlot     = errors.New("unknown input slot")
	ErrUnknownDocument = errors.New("document not available")
	ErrMissingInputs   = errors.New("required inputs missing")
	ErrUnknownOutput   = errors.New("generated document not found")
)

// goodQuality is the output quality from which a run is reported as a success.
const goodQuality = 50

// Source is the static process catalogue.
type Source interface {
	Process(id string) (content.Process, error)
}

// State is the part of the game state a run reads.
type State interface {
	ProcessUnlocked(id string) bool
	Level() int
	Inventory() []domain.EvidenceItem
}

// MissingInputsError names the required slots left empty at execution.
type MissingInputsError struct {
	ProcessID string
	Missing   []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMissingInputs, e.ProcessID, strings.Join(e.Missing, ", "))
}

func (e *MissingInputsError) Unwrap() error { return ErrMissingInputs }

// Document is an output produced by executing a process. Generated
// documents can be fed into later processes.
type Document struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DocumentType string    `json:"document_type"`
	ProcessID    string    `json:"process_id"`
	OutputID     string    `json:"output_id"`
	Quality      int       `json:"quality"`
	CreatedAt    time.Time `json:"created_at"`
}

type InputUse struct {
	InputID    string `json:"input_id"`
	DocumentID string `json:"document_id"`
	Quality    int    `json:"quality"`
}

// Execution records one successful run.
type Execution struct {
	ID         string     `json:"id"`
	ProcessID  string     `json:"process_id"`
	Inputs     []InputUse `json:"inputs"`
	Outputs    []string   `json:"output_document_ids"`
	Quality    int        `json:"output_quality"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// Selection is the process on the bench and the documents slotted into it.
type Selection struct {
	ProcessID string            `json:"process_id"`
	Assigned  map[string]string `json:"assigned"`
	Missing   []string          `json:"missing"`
	Quality   int               `json:"projected_quality"`
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Registry runs process cards for one session. Not safe for concurrent use.
type Registry struct {
	src      Source
	state    State
	dispatch consequence.Applier
	log      *zap.Logger
	now      func() time.Time
	newID    func() string

	selected string
	assigned map[string]string
	docs     []Document
	history  []Execution
}

// New builds a registry. Completion notices go through dispatch.
func New(src Source, state State, dispatch consequence.Applier, opts ...Option) *Registry {
	r := &Registry{
		src:      src,
		state:    state,
		dispatch: dispatch,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Reset()
	return r
}

// Reset drops the bench, generated documents and history.
func (r *Registry) Reset() {
	r.selected = ""
	r.assigned = map[string]string{}
	r.docs = nil
	r.history = nil
}

// Select puts an unlocked process on the bench and clears its slots.
func (r *Registry) Select(processID string) (Selection, error) {
	p, err := r.src.Process(processID)
	if err != nil {
		return Selection{}, err
	}
	if !r.state.ProcessUnlocked(p.ID) {
		return Selection{}, fmt.Errorf("%w: %s", ErrProcessLocked, p.ID)
	}
	if p.LevelRequired > r.state.Level() {
		return Selection{}, fmt.Errorf("%w: %s needs level %d", ErrProcessLocked, p.ID, p.LevelRequired)
	}
	r.selected = p.ID
	r.assigned = map[string]string{}
	return r.selection(p), nil
}

// Clear takes the process off the bench.
func (r *Registry) Clear() {
	r.selected = ""
	r.assigned = map[string]string{}
}

// Selection returns the current bench, if any.
func (r *Registry) Selection() (Selection, bool) {
	p, err := r.current()
	if err != nil {
		return Selection{}, false
	}
	return r.selection(p), true
}

// Assign slots a document into one of the selected process's inputs,
// replacing whatever was there.
func (r *Registry) Assign(slotID, documentID string) (Selection, error) {
	p, err := r.current()
	if err != nil {
		return Selection{}, err
	}
	if _, ok := p.Slot(slotID); !ok {
		return Selection{}, fmt.Errorf("%w: %s on %s", ErrUnknownSlot, slotID, p.ID)
	}
	if _, ok := r.documentQuality(documentID); !ok {
		return Selection{}, fmt.Errorf("%w: %s", ErrUnknownDocument, documentID)
	}
	r.assigned[slotID] = documentID
	return r.selection(p), nil
}

func (r *Registry) Unassign(slotID string) (Selection, error) {
	p, err := r.current()
	if err != nil {
		return Selection{}, err
	}
	delete(r.assigned, slotID)
	return r.selection(p), nil
}

// Execute runs the selected process. Every output becomes a generated
// document whose quality follows the output's formula. The bench is cleared
// on success.
func (r *Registry) Execute() (Execution, []Document, error) {
	p, err := r.current()
	if err != nil {
		return Execution{}, nil, err
	}
	if missing := r.missing(p); len(missing) > 0 {
		return Execution{}, nil, &MissingInputsError{ProcessID: p.ID, Missing: missing}
	}
	now := r.now()
	exec := Execution{
		ID:         r.newID(),
		ProcessID:  p.ID,
		ExecutedAt: now,
	}
	slots := make([]string, 0, len(r.assigned))
	for slot := range r.assigned {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		docID := r.assigned[slot]
		q, _ := r.documentQuality(docID)
		exec.Inputs = append(exec.Inputs, InputUse{InputID: slot, DocumentID: docID, Quality: q})
	}
	out := make([]Document, 0, len(p.Outputs))
	for i, o := range p.Outputs {
		doc := Document{
			ID:           r.newID(),
			Name:         o.Name,
			DocumentType: o.DocumentType,
			ProcessID:    p.ID,
			OutputID:     o.ID,
			Quality:      r.quality(p, o.Formula),
			CreatedAt:    now,
		}
		if i == 0 {
			exec.Quality = doc.Quality
		}
		exec.Outputs = append(exec.Outputs, doc.ID)
		out = append(out, doc)
	}
	r.docs = append(r.docs, out...)
	r.history = append(r.history, exec)
	r.Clear()
	r.log.Info("process executed", zap.String("process", p.ID), zap.Int("quality", exec.Quality))

	if r.dispatch != nil {
		severity := domain.SeveritySuccess
		if exec.Quality < goodQuality {
			severity = domain.SeverityWarning
		}
		r.dispatch.Apply(consequence.AddNotification{
			Title:    "Process Complete",
			Message:  fmt.Sprintf("%s has been generated.", out[0].Name),
			Severity: severity,
		})
	}
	return exec, out, nil
}

// UpdateDocumentQuality overrides a generated document's quality, clamped
// to [0,100].
func (r *Registry) UpdateDocumentQuality(documentID string, quality int) error {
	for i := range r.docs {
		if r.docs[i].ID == documentID {
			r.docs[i].Quality = min(max(quality, 0), 100)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownOutput, documentID)
}

func (r *Registry) Documents() []Document {
	return append([]Document{}, r.docs...)
}

func (r *Registry) History() []Execution {
	return append([]Execution{}, r.history...)
}

func (r *Registry) current() (content.Process, error) {
	if r.selected == "" {
		return content.Process{}, ErrNoSelection
	}
	return r.src.Process(r.selected)
}

func (r *Registry) selection(p content.Process) Selection {
	assigned := make(map[string]string, len(r.assigned))
	for k, v := range r.assigned {
		assigned[k] = v
	}
	formula := content.FormulaWeighted
	if len(p.Outputs) > 0 {
		formula = p.Outputs[0].Formula
	}
	return Selection{
		ProcessID: p.ID,
		Assigned:  assigned,
		Missing:   r.missing(p),
		Quality:   r.quality(p, formula),
	}
}

func (r *Registry) missing(p content.Process) []string {
	var out []string
	for _, in := range p.Inputs {
		if in.Required && r.assigned[in.ID] == "" {
			out = append(out, in.ID)
		}
	}
	return out
}

// quality scores the bench. An empty required slot counts as quality 0;
// empty optional slots are left out.
func (r *Registry) quality(p content.Process, f content.QualityFormula) int {
	var sum, weight float64
	count := func(in content.ProcessInput) {
		impact := float64(in.QualityImpact)
		if f == content.FormulaAverage {
			impact = 1
		}
		docID, ok := r.assigned[in.ID]
		if !ok {
			if in.Required {
				weight += impact
			}
			return
		}
		q, _ := r.documentQuality(docID)
		sum += float64(q) * impact
		weight += impact
	}
	for _, in := range p.Inputs {
		count(in)
	}
	for _, in := range p.OptionalInputs {
		count(in)
	}
	if weight == 0 {
		return 0
	}
	return int(math.Round(sum / weight))
}

// documentQuality looks a document up among generated outputs first, then
// the inventory.
func (r *Registry) documentQuality(id string) (int, bool) {
	for _, d := range r.docs {
		if d.ID == id {
			return d.Quality, true
		}
	}
	for _, item := range r.state.Inventory() {
		if item.ID == id {
			return item.QualityScore, true
		}
	}
	return 0, false
}
