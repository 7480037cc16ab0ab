package doctasks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ascend/internal/consequence"
	"ascend/internal/content"
)

type applied struct{ list []consequence.Consequence }

func (a *applied) Apply(c consequence.Consequence) { a.list = append(a.list, c) }

type objectives map[string]bool

func (o objectives) ObjectiveDone(id string) bool { return o[id] }

func newRegistry(t *testing.T, objs objectives) (*Registry, *applied) {
	t.Helper()
	store, err := content.Default()
	require.NoError(t, err)
	a := &applied{}
	return New(store, a, objs, nil), a
}

func TestActiveTaskRespectsLevelAndUnlock(t *testing.T) {
	r, _ := newRegistry(t, objectives{})

	_, ok := r.ActiveTask("doc_org_chart", 1)
	require.False(t, ok, "level 2 task must stay hidden at level 1")

	task, ok := r.ActiveTask("doc_business_case", 1)
	require.True(t, ok)
	require.Equal(t, "task_level1_roi", task.ID)

	_, err := r.Submit("task_level1_budget", "ev_budget_500k", 1)
	require.True(t, errors.Is(err, ErrTaskLocked))

	fb, err := r.Submit("task_level1_roi", "hl_roi_20_percent", 1)
	require.NoError(t, err)
	require.True(t, fb.Correct)

	task, ok = r.ActiveTask("doc_business_case", 1)
	require.True(t, ok)
	require.Equal(t, "task_level1_budget", task.ID)
}

func TestSubmitFeedback(t *testing.T) {
	r, a := newRegistry(t, objectives{})

	fb, err := r.Submit("task_level1_roi", "ev_budget_500k", 1)
	require.NoError(t, err)
	require.False(t, fb.Correct)
	require.Contains(t, fb.Message, "The budget is the cost of the project")
	require.Equal(t, 1, fb.Attempts)

	fb, err = r.Submit("task_level1_roi", "hl_somewhere_else", 1)
	require.NoError(t, err)
	require.Contains(t, fb.Message, "expected return on the investment")
	require.Equal(t, 2, fb.Attempts)
	require.Empty(t, a.list)

	fb, err = r.Submit("task_level1_roi", "hl_roi_20_percent", 1)
	require.NoError(t, err)
	require.True(t, fb.Correct)
	require.Equal(t, 3, fb.Attempts)
	require.NotEmpty(t, fb.Educational)
	require.Len(t, a.list, 1)
	require.Equal(t, consequence.AddInventory{Items: []string{"ev_roi_justification"}}, a.list[0])

	_, err = r.Submit("task_level1_roi", "hl_roi_20_percent", 1)
	require.True(t, errors.Is(err, ErrTaskCompleted))
	require.Equal(t, []string{"task_level1_roi"}, r.Completed())
}

func TestUnlockByObjective(t *testing.T) {
	store, err := content.Load(packFS(`
document_tasks:
  - id: gated
    document: doc
    level: 0
    unlock_condition: obj_read_policy
    correct: [hl_ok]
`))
	require.NoError(t, err)
	objs := objectives{}
	r := New(store, nil, objs, nil)
	_, ok := r.ActiveTask("doc", 0)
	require.False(t, ok)
	objs["obj_read_policy"] = true
	_, ok = r.ActiveTask("doc", 0)
	require.True(t, ok)
}

func TestGameOverRewardReachesApplier(t *testing.T) {
	store, err := content.Load(packFS(`
document_tasks:
  - id: bad
    document: doc
    level: 0
    correct: [h1]
    consequences:
      - {type: add_notification, payload: {title: Noted, message: fine}}
      - {type: game_over, payload: {reason: BUDGET_DEPLETED, message: spent it}}
`))
	require.NoError(t, err)
	a := &applied{}
	r := New(store, a, objectives{}, nil)

	fb, err := r.Submit("bad", "h1", 0)
	require.NoError(t, err)
	require.True(t, fb.Correct)
	require.Len(t, a.list, 2)
	require.Equal(t, consequence.GameOver{Reason: "BUDGET_DEPLETED", Message: "spent it"}, a.list[1])
}

func TestUnknownTask(t *testing.T) {
	r, _ := newRegistry(t, nil)
	_, err := r.Submit("task_missing", "x", 5)
	require.True(t, errors.Is(err, content.ErrTaskNotFound))
	r.Reset()
	require.Empty(t, r.Completed())
}
