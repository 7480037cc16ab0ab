package doctasks

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"ascend/internal/consequence"
	"ascend/internal/content"
)

var (
	ErrTaskLocked    = errors.New("document task is not available")
	ErrTaskCompleted = errors.New("document task already completed")
)

// Source is the static task catalogue.
type Source interface {
	Tasks() []content.DocumentTask
	Task(id string) (content.DocumentTask, error)
	Educational(taskType string) string
}

// Objectives answers whether an objective named by an unlock condition is done.
type Objectives interface {
	ObjectiveDone(id string) bool
}

type Feedback struct {
	TaskID      string `json:"task_id"`
	HighlightID string `json:"highlight_id"`
	Correct     bool   `json:"correct"`
	Message     string `json:"message"`
	Educational string `json:"educational,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Registry tracks highlight-and-extract progress for one session. Not safe
// for concurrent use.
type Registry struct {
	src        Source
	dispatch   consequence.Applier
	objectives Objectives
	log        *zap.Logger
	completed  map[string]bool
	attempts   map[string]int
}

// New builds a registry. Rewards go through dispatch, which should be the
// engine when a reward can end the game.
func New(src Source, dispatch consequence.Applier, objectives Objectives, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{src: src, dispatch: dispatch, objectives: objectives, log: log}
	r.Reset()
	return r
}

// Reset forgets all progress.
func (r *Registry) Reset() {
	r.completed = map[string]bool{}
	r.attempts = map[string]int{}
}

func (r *Registry) available(t content.DocumentTask, level int) bool {
	if r.completed[t.ID] || t.LevelID > level {
		return false
	}
	if t.UnlockCondition == "" {
		return true
	}
	if r.completed[t.UnlockCondition] {
		return true
	}
	return r.objectives != nil && r.objectives.ObjectiveDone(t.UnlockCondition)
}

// ActiveTask returns the first task for the document that is not completed,
// whose level has been reached and whose unlock condition holds.
func (r *Registry) ActiveTask(documentID string, level int) (content.DocumentTask, bool) {
	for _, t := range r.src.Tasks() {
		if t.DocumentID != documentID {
			continue
		}
		if r.available(t, level) {
			return t, true
		}
	}
	return content.DocumentTask{}, false
}

// Submit checks a highlight against the task. A correct answer completes the
// task and applies its consequences in order.
func (r *Registry) Submit(taskID, highlightID string, level int) (Feedback, error) {
	t, err := r.src.Task(taskID)
	if err != nil {
		return Feedback{}, err
	}
	if r.completed[t.ID] {
		return Feedback{}, fmt.Errorf("%w: %s", ErrTaskCompleted, t.ID)
	}
	if !r.available(t, level) {
		return Feedback{}, fmt.Errorf("%w: %s", ErrTaskLocked, t.ID)
	}
	r.attempts[t.ID]++
	fb := Feedback{TaskID: t.ID, HighlightID: highlightID, Attempts: r.attempts[t.ID]}
	for _, id := range t.CorrectHighlightIDs {
		if id != highlightID {
			continue
		}
		r.completed[t.ID] = true
		fb.Correct = true
		fb.Message = t.SuccessFeedback
		fb.Educational = r.src.Educational(t.TaskType)
		r.log.Info("document task completed", zap.String("task", t.ID), zap.Int("attempts", fb.Attempts))
		if r.dispatch != nil {
			for _, c := range t.Consequences {
				r.dispatch.Apply(c)
			}
		}
		return fb, nil
	}
	if msg, ok := t.IncorrectFeedback[highlightID]; ok {
		fb.Message = msg
	} else {
		fb.Message = t.DefaultIncorrect
	}
	r.log.Debug("document task miss", zap.String("task", t.ID), zap.String("highlight", highlightID))
	return fb, nil
}

// Completed lists completed task ids, sorted.
func (r *Registry) Completed() []string {
	out := make([]string, 0, len(r.completed))
	for id := range r.completed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Attempts(taskID string) int {
	return r.attempts[taskID]
}
