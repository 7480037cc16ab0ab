package content

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"ascend/internal/consequence"
	"ascend/internal/domain"
)

//go:embed data/*.yaml
var defaultFS embed.FS

// ValidationError lists every defect found in a content pack.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid content: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid content (%d issues): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

type loadOptions struct {
	defaultRevealDelayMs int
}

type LoadOption func(*loadOptions)

// WithDefaultRevealDelay sets the delay used by nodes that omit delay_ms.
func WithDefaultRevealDelay(ms int) LoadOption {
	return func(o *loadOptions) { o.defaultRevealDelayMs = ms }
}

// file is the on-disk shape of one YAML content file. A pack may spread its
// sections across any number of files.
type file struct {
	Trees          []treeFile                      `yaml:"trees"`
	Contacts       []domain.Contact                `yaml:"contacts"`
	Stakeholders   []domain.Stakeholder            `yaml:"stakeholders"`
	Decompositions map[string][]domain.Stakeholder `yaml:"decompositions"`
	Evidence       []domain.EvidenceItem           `yaml:"evidence"`
	Tasks          []taskFile                      `yaml:"document_tasks"`
	Processes      []Process                       `yaml:"processes"`
	Reasons        map[string]Reason               `yaml:"game_over_reasons"`
	Educational    map[string]string               `yaml:"educational"`
}

type treeFile struct {
	ID      string     `yaml:"id"`
	Contact string     `yaml:"contact"`
	Start   string     `yaml:"start"`
	Nodes   []nodeFile `yaml:"nodes"`
}

type nodeFile struct {
	ID           string           `yaml:"id"`
	Speaker      string           `yaml:"speaker"`
	Avatar       string           `yaml:"avatar"`
	Text         string           `yaml:"text"`
	Choices      []choiceFile     `yaml:"choices"`
	AutoAdvance  string           `yaml:"auto_advance"`
	DelayMs      *int             `yaml:"delay_ms"`
	Consequences consequence.List `yaml:"consequences"`
}

type choiceFile struct {
	ID           string           `yaml:"id"`
	Label        string           `yaml:"label"`
	Style        ChoiceStyle      `yaml:"style"`
	Next         string           `yaml:"next"`
	Consequences consequence.List `yaml:"consequences"`
}

type taskFile struct {
	ID                string            `yaml:"id"`
	Document          string            `yaml:"document"`
	Type              string            `yaml:"type"`
	Prompt            string            `yaml:"prompt"`
	Hint              string            `yaml:"hint"`
	Correct           []string          `yaml:"correct"`
	IncorrectFeedback map[string]string `yaml:"incorrect_feedback"`
	DefaultIncorrect  string            `yaml:"default_incorrect"`
	Success           string            `yaml:"success"`
	Level             int               `yaml:"level"`
	UnlockCondition   string            `yaml:"unlock_condition"`
	Consequences      consequence.List  `yaml:"consequences"`
}

// Default loads the pack compiled into the binary.
func Default(opts ...LoadOption) (*Store, error) {
	sub, err := fs.Sub(defaultFS, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub, opts...)
}

// LoadDir loads every *.yaml and *.yml file under dir.
func LoadDir(dir string, opts ...LoadOption) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("content dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content dir %s is not a directory", dir)
	}
	return Load(os.DirFS(dir), opts...)
}

// Load parses, indexes and validates a pack. Files are read in lexical
// order; sections from later files append to earlier ones.
func Load(fsys fs.FS, opts ...LoadOption) (*Store, error) {
	o := loadOptions{defaultRevealDelayMs: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	var names []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			names = append(names, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan content: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no content files found")
	}
	sort.Strings(names)

	var merged file
	merged.Decompositions = map[string][]domain.Stakeholder{}
	merged.Reasons = map[string]Reason{}
	merged.Educational = map[string]string{}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		merged.Trees = append(merged.Trees, f.Trees...)
		merged.Contacts = append(merged.Contacts, f.Contacts...)
		merged.Stakeholders = append(merged.Stakeholders, f.Stakeholders...)
		merged.Evidence = append(merged.Evidence, f.Evidence...)
		merged.Tasks = append(merged.Tasks, f.Tasks...)
		merged.Processes = append(merged.Processes, f.Processes...)
		for k, v := range f.Decompositions {
			merged.Decompositions[k] = append(merged.Decompositions[k], v...)
		}
		for k, v := range f.Reasons {
			merged.Reasons[k] = v
		}
		for k, v := range f.Educational {
			merged.Educational[k] = v
		}
	}
	return build(merged, o)
}

type builder struct {
	issues   []string
	warnings []string
}

func (b *builder) fail(format string, args ...any) {
	b.issues = append(b.issues, fmt.Sprintf(format, args...))
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func build(f file, o loadOptions) (*Store, error) {
	b := &builder{}
	s := &Store{
		trees:       map[string]*Tree{},
		byContact:   map[string]*Tree{},
		decomps:     map[string][]domain.Stakeholder{},
		evidence:    map[string]domain.EvidenceItem{},
		taskIdx:     map[string]int{},
		processIdx:  map[string]int{},
		reasons:     f.Reasons,
		educational: f.Educational,
	}

	contactIDs := map[string]bool{}
	for _, c := range f.Contacts {
		if c.ID == "" {
			b.fail("contact with empty id")
			continue
		}
		if contactIDs[c.ID] {
			b.fail("duplicate contact %s", c.ID)
			continue
		}
		contactIDs[c.ID] = true
		s.contacts = append(s.contacts, c)
	}

	stakeholderIDs := map[string]bool{}
	for _, sh := range f.Stakeholders {
		if sh.ID == "" {
			b.fail("stakeholder with empty id")
			continue
		}
		if stakeholderIDs[sh.ID] {
			b.fail("duplicate stakeholder %s", sh.ID)
			continue
		}
		if sh.Attitude != "" && !sh.Attitude.Valid() {
			b.fail("stakeholder %s has unknown attitude %q", sh.ID, sh.Attitude)
		}
		stakeholderIDs[sh.ID] = true
		s.stakeholders = append(s.stakeholders, sh)
	}
	parents := make([]string, 0, len(f.Decompositions))
	for parent := range f.Decompositions {
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	for _, parent := range parents {
		if !stakeholderIDs[parent] {
			b.warn("decomposition parent %s is not a known stakeholder", parent)
		}
		for _, child := range f.Decompositions[parent] {
			if child.ID == "" {
				b.fail("decomposition of %s has a child with empty id", parent)
				continue
			}
			if stakeholderIDs[child.ID] {
				b.fail("decomposition child %s of %s collides with an existing stakeholder", child.ID, parent)
				continue
			}
			stakeholderIDs[child.ID] = true
			child.ParentStakeholderID = parent
			child.IsIdentified = true
			s.decomps[parent] = append(s.decomps[parent], child)
		}
	}

	for _, item := range f.Evidence {
		if item.ID == "" {
			b.fail("evidence item with empty id")
			continue
		}
		if _, dup := s.evidence[item.ID]; dup {
			b.fail("duplicate evidence item %s", item.ID)
			continue
		}
		s.evidence[item.ID] = item
		s.evidenceList = append(s.evidenceList, item)
	}

	for _, tf := range f.Trees {
		t := b.tree(tf, o)
		if t == nil {
			continue
		}
		if _, dup := s.trees[t.ID]; dup {
			b.fail("duplicate tree %s", t.ID)
			continue
		}
		if other, dup := s.byContact[t.ContactID]; dup {
			b.fail("contact %s is bound to both %s and %s", t.ContactID, other.ID, t.ID)
			continue
		}
		if len(contactIDs) > 0 && !contactIDs[t.ContactID] {
			b.warn("tree %s uses contact %s which is not in the contact list", t.ID, t.ContactID)
		}
		s.trees[t.ID] = t
		s.byContact[t.ContactID] = t
		s.treeOrder = append(s.treeOrder, t.ID)
	}

	for _, tf := range f.Tasks {
		task, ok := b.task(tf)
		if !ok {
			continue
		}
		if _, dup := s.taskIdx[task.ID]; dup {
			b.fail("duplicate document task %s", task.ID)
			continue
		}
		s.taskIdx[task.ID] = len(s.tasks)
		s.tasks = append(s.tasks, task)
	}

	for _, p := range f.Processes {
		if !b.process(p) {
			continue
		}
		if _, dup := s.processIdx[p.ID]; dup {
			b.fail("duplicate process %s", p.ID)
			continue
		}
		s.processIdx[p.ID] = len(s.processes)
		s.processes = append(s.processes, p)
	}

	b.crossCheck(s, stakeholderIDs, contactIDs)
	if len(b.issues) > 0 {
		return nil, &ValidationError{Issues: b.issues}
	}
	s.warnings = b.warnings
	return s, nil
}

func (b *builder) tree(tf treeFile, o loadOptions) *Tree {
	if tf.ID == "" {
		b.fail("tree with empty id")
		return nil
	}
	if tf.Contact == "" {
		b.fail("tree %s has no contact", tf.ID)
		return nil
	}
	t := &Tree{ID: tf.ID, ContactID: tf.Contact, StartNodeID: tf.Start, nodes: map[string]*Node{}}
	for _, nf := range tf.Nodes {
		if nf.ID == "" {
			b.fail("tree %s has a node with empty id", tf.ID)
			continue
		}
		if _, dup := t.nodes[nf.ID]; dup {
			b.fail("tree %s has duplicate node %s", tf.ID, nf.ID)
			continue
		}
		delay := o.defaultRevealDelayMs
		if nf.DelayMs != nil {
			delay = *nf.DelayMs
		}
		if delay < 0 {
			b.fail("node %s/%s has negative delay %d", tf.ID, nf.ID, delay)
			delay = 0
		}
		n := &Node{
			ID:                nf.ID,
			Speaker:           nf.Speaker,
			Avatar:            nf.Avatar,
			Text:              nf.Text,
			AutoAdvanceNodeID: nf.AutoAdvance,
			RevealDelayMs:     delay,
			Consequences:      nf.Consequences,
		}
		seen := map[string]bool{}
		for _, cf := range nf.Choices {
			if cf.ID == "" {
				b.fail("node %s/%s has a choice with empty id", tf.ID, nf.ID)
				continue
			}
			if seen[cf.ID] {
				b.fail("node %s/%s has duplicate choice %s", tf.ID, nf.ID, cf.ID)
				continue
			}
			seen[cf.ID] = true
			style := cf.Style
			if style == "" {
				style = StyleNeutral
			}
			n.Choices = append(n.Choices, Choice{
				ID:           cf.ID,
				Label:        cf.Label,
				Style:        style,
				Consequences: cf.Consequences,
				NextNodeID:   cf.Next,
			})
		}
		if len(n.Choices) > 0 && n.AutoAdvanceNodeID != "" {
			b.warn("node %s/%s has choices and auto_advance; choices win", tf.ID, nf.ID)
		}
		t.nodes[n.ID] = n
		t.order = append(t.order, n.ID)
	}
	if tf.Start == "" {
		b.fail("tree %s has no start node", tf.ID)
	} else if _, ok := t.nodes[tf.Start]; !ok {
		b.fail("tree %s start node %s does not exist", tf.ID, tf.Start)
	}
	for _, id := range t.order {
		n := t.nodes[id]
		if n.AutoAdvanceNodeID != "" {
			if _, ok := t.nodes[n.AutoAdvanceNodeID]; !ok {
				b.fail("node %s/%s auto-advances to missing node %s", t.ID, n.ID, n.AutoAdvanceNodeID)
			}
		}
		for _, c := range n.Choices {
			if c.NextNodeID == "" {
				continue
			}
			if _, ok := t.nodes[c.NextNodeID]; !ok {
				b.fail("choice %s/%s/%s points to missing node %s", t.ID, n.ID, c.ID, c.NextNodeID)
			}
		}
	}
	return t
}

func (b *builder) task(tf taskFile) (DocumentTask, bool) {
	if tf.ID == "" {
		b.fail("document task with empty id")
		return DocumentTask{}, false
	}
	if tf.Document == "" {
		b.fail("document task %s has no document", tf.ID)
		return DocumentTask{}, false
	}
	if len(tf.Correct) == 0 {
		b.fail("document task %s has no correct highlights", tf.ID)
		return DocumentTask{}, false
	}
	return DocumentTask{
		ID:                  tf.ID,
		DocumentID:          tf.Document,
		TaskType:            tf.Type,
		Prompt:              tf.Prompt,
		Hint:                tf.Hint,
		CorrectHighlightIDs: tf.Correct,
		IncorrectFeedback:   tf.IncorrectFeedback,
		DefaultIncorrect:    tf.DefaultIncorrect,
		SuccessFeedback:     tf.Success,
		LevelID:             tf.Level,
		UnlockCondition:     tf.UnlockCondition,
		Consequences:        tf.Consequences,
	}, true
}

func (b *builder) process(p Process) bool {
	if p.ID == "" {
		b.fail("process with empty id")
		return false
	}
	ok := true
	if len(p.Outputs) == 0 {
		b.fail("process %s has no outputs", p.ID)
		ok = false
	}
	slots := map[string]bool{}
	for _, in := range append(append([]ProcessInput(nil), p.Inputs...), p.OptionalInputs...) {
		switch {
		case in.ID == "":
			b.fail("process %s has an input with empty id", p.ID)
			ok = false
		case slots[in.ID]:
			b.fail("process %s has duplicate input %s", p.ID, in.ID)
			ok = false
		case in.QualityImpact < 0:
			b.fail("process %s input %s has negative quality impact", p.ID, in.ID)
			ok = false
		}
		slots[in.ID] = true
	}
	for _, out := range p.Outputs {
		if !out.Formula.Valid() {
			b.fail("process %s output %s has unknown quality formula %q", p.ID, out.ID, out.Formula)
			ok = false
		}
	}
	return ok
}

// crossCheck warns about consequences whose targets the pack cannot satisfy.
// They are skipped at runtime, so none of these are fatal.
func (b *builder) crossCheck(s *Store, stakeholders, contacts map[string]bool) {
	check := func(where string, list consequence.List) {
		for _, c := range list {
			if err := consequence.Check(c); err != nil {
				b.warn("%s: %v", where, err)
				continue
			}
			switch v := c.(type) {
			case consequence.AddInventory:
				for _, id := range v.Items {
					if _, ok := s.evidence[id]; !ok {
						b.warn("%s: inventory item %s is not in the evidence catalog", where, id)
					}
				}
			case consequence.IdentifyStakeholder:
				if !stakeholders[v.StakeholderID] {
					b.warn("%s: stakeholder %s is unknown", where, v.StakeholderID)
				}
			case consequence.UpdateStakeholder:
				if !stakeholders[v.StakeholderID] {
					b.warn("%s: stakeholder %s is unknown", where, v.StakeholderID)
				}
			case consequence.DecomposeStakeholder:
				if _, ok := s.decomps[v.ParentID]; !ok {
					b.warn("%s: stakeholder %s has no decomposition", where, v.ParentID)
				}
			case consequence.AddContact:
				if len(contacts) > 0 && !contacts[v.ContactID] {
					b.warn("%s: contact %s is unknown", where, v.ContactID)
				}
			case consequence.UnlockProcess:
				if len(s.processIdx) > 0 {
					if _, ok := s.processIdx[v.ProcessID]; !ok {
						b.warn("%s: process %s is unknown", where, v.ProcessID)
					}
				}
			case consequence.GameOver:
				if len(s.reasons) > 0 {
					if _, ok := s.reasons[v.Reason]; !ok {
						b.warn("%s: game-over reason %s has no lesson text", where, v.Reason)
					}
				}
			}
		}
	}
	for _, t := range s.Trees() {
		for _, n := range t.Nodes() {
			check(fmt.Sprintf("node %s/%s", t.ID, n.ID), n.Consequences)
			for _, c := range n.Choices {
				check(fmt.Sprintf("choice %s/%s/%s", t.ID, n.ID, c.ID), c.Consequences)
			}
		}
	}
	for _, task := range s.tasks {
		check("task "+task.ID, task.Consequences)
	}
}
