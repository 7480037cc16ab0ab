package consequence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"ascend/internal/consequence"
	"ascend/internal/domain"
)

// recorder implements every collaborator and logs calls in order.
type recorder struct {
	calls []string
	fail  map[string]bool
	items map[string]domain.EvidenceItem
	notes []domain.Notification
}

func newRecorder() *recorder {
	return &recorder{
		fail: map[string]bool{},
		items: map[string]domain.EvidenceItem{
			"ev_a": {ID: "ev_a"},
			"ev_b": {ID: "ev_b"},
		},
	}
}

func (r *recorder) call(name string) error {
	r.calls = append(r.calls, name)
	if r.fail[name] {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) UnlockApp(id string) error     { return r.call("app:" + id) }
func (r *recorder) UnlockProcess(id string) error { return r.call("process:" + id) }
func (r *recorder) EndGame(reason, _ string) error {
	return r.call("game_over:" + reason)
}
func (r *recorder) Notify(n domain.Notification) error {
	r.notes = append(r.notes, n)
	return r.call("notify:" + n.Title)
}
func (r *recorder) UpdateStakeholder(id string, identified *bool, attitude domain.Attitude) error {
	return r.call("stakeholder:" + id + ":" + string(attitude))
}
func (r *recorder) IdentifyStakeholder(id string) error { return r.call("identify:" + id) }
func (r *recorder) DecomposeStakeholder(id string) ([]string, error) {
	return []string{"a", "b"}, r.call("decompose:" + id)
}
func (r *recorder) UnlockContact(id string, unread bool) error {
	if !unread {
		return r.call("contact-read:" + id)
	}
	return r.call("contact:" + id)
}
func (r *recorder) EvidenceItem(id string) (domain.EvidenceItem, bool) {
	it, ok := r.items[id]
	return it, ok
}
func (r *recorder) AddItem(item domain.EvidenceItem) error { return r.call("item:" + item.ID) }
func (r *recorder) AdjustConstraint(m domain.Metric, delta int) (int, error) {
	return 0, r.call("constraint:" + string(m))
}
func (r *recorder) CompleteObjective(id string) error { return r.call("objective:" + id) }

func collaborators(r *recorder) consequence.Collaborators {
	return consequence.Collaborators{
		Apps: r, Game: r, Notifier: r, Stakeholders: r, Contacts: r,
		Catalog: r, Inventory: r, Constraints: r, Objectives: r,
	}
}

func decodeList(t *testing.T, src string) consequence.List {
	t.Helper()
	var l consequence.List
	require.NoError(t, yaml.Unmarshal([]byte(src), &l))
	return l
}

func TestApplyAllPreservesOrder(t *testing.T) {
	r := newRecorder()
	d := consequence.NewDispatcher(collaborators(r), consequence.WithIDGenerator(func() string { return "n-1" }))
	d.ApplyAll(decodeList(t, `
- {type: add_notification, payload: {title: Hi, message: there, severity: success}}
- {type: unlock_app, payload: {app_id: files}}
- {type: unlock_app, payload: {app_id: pmis}}
- {type: unlock_process, payload: {process_id: proc_develop_charter}}
- {type: add_inventory, payload: {items: [ev_a, ev_missing, ev_b]}}
- {type: update_stakeholder, payload: {stakeholder_id: sh_marcus, attitude: Neutral, identified: true}}
- {type: add_contact, payload: {contact_id: contact_team}}
- {type: identify_stakeholder, payload: {stakeholder_id: sh_compliance}}
- {type: decompose_stakeholder, payload: {parent_id: sh_entire_company}}
- {type: update_constraint, payload: {metric: schedule, delta: -20}}
- {type: complete_objective, payload: {objective_id: obj_one}}
- {type: game_over, payload: {reason: UNAUTHORIZED_SPEND, message: no}}
`))
	want := []string{
		"notify:Hi",
		"app:files",
		"app:pmis",
		"process:proc_develop_charter",
		"item:ev_a",
		"item:ev_b",
		"stakeholder:sh_marcus:Neutral",
		"contact:contact_team",
		"identify:sh_compliance",
		"decompose:sh_entire_company",
		"constraint:schedule",
		"objective:obj_one",
		"game_over:UNAUTHORIZED_SPEND",
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, r.notes, 1)
	require.Equal(t, "n-1", r.notes[0].ID)
	require.Equal(t, domain.SeveritySuccess, r.notes[0].Severity)
	require.Equal(t, 5000, r.notes[0].DurationMs)
}

func TestFailureSkipsOnlyThatEffect(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := newRecorder()
	r.fail["app:files"] = true
	var applied []consequence.Kind
	d := consequence.NewDispatcher(collaborators(r),
		consequence.WithLogger(zap.New(core)),
		consequence.WithObserver(func(c consequence.Consequence) { applied = append(applied, c.Kind()) }),
	)
	d.ApplyAll(consequence.List{
		consequence.UnlockApp{AppID: "files"},
		consequence.UnlockApp{AppID: "pmis"},
	})
	require.Equal(t, []string{"app:files", "app:pmis"}, r.calls)
	require.Equal(t, []consequence.Kind{consequence.KindUnlockApp}, applied)
	require.Equal(t, 1, logs.FilterMessage("consequence skipped").Len())
}

func TestUnknownKindIsNoop(t *testing.T) {
	r := newRecorder()
	d := consequence.NewDispatcher(collaborators(r))
	list := decodeList(t, "- {type: summon_dragon, payload: {size: large}}\n")
	require.IsType(t, consequence.Unknown{}, list[0])
	d.ApplyAll(list)
	d.Apply(nil)
	require.Empty(t, r.calls)
}

func TestMissingCollaboratorIsNoop(t *testing.T) {
	d := consequence.NewDispatcher(consequence.Collaborators{})
	require.NotPanics(t, func() {
		d.ApplyAll(consequence.List{
			consequence.GameOver{Reason: "X"},
			consequence.AddInventory{Items: []string{"ev_a"}},
			consequence.UpdateConstraint{Metric: domain.MetricBudget, Delta: -10},
		})
	})
}

func TestNotificationDefaults(t *testing.T) {
	r := newRecorder()
	fixed := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	d := consequence.NewDispatcher(collaborators(r),
		consequence.WithNotificationDuration(3000),
		consequence.WithClock(func() time.Time { return fixed }),
	)
	d.Apply(consequence.AddNotification{Title: "x", Severity: "shout"})
	require.Len(t, r.notes, 1)
	require.Equal(t, domain.SeverityInfo, r.notes[0].Severity)
	require.Equal(t, 3000, r.notes[0].DurationMs)
	require.Equal(t, "2024-01-01T09:00:00Z", r.notes[0].CreatedAt)
	require.NotEmpty(t, r.notes[0].ID)
}

func TestDecodeErrors(t *testing.T) {
	var l consequence.List
	require.Error(t, yaml.Unmarshal([]byte("type: unlock_app\n"), &l))
	require.Error(t, yaml.Unmarshal([]byte("- {payload: {app_id: x}}\n"), &l))
	require.Error(t, yaml.Unmarshal([]byte("- {type: update_constraint, payload: {metric: budget, delta: lots}}\n"), &l))
}

func TestCheck(t *testing.T) {
	require.NoError(t, consequence.Check(consequence.UpdateConstraint{Metric: domain.MetricMorale, Delta: 3}))
	require.Error(t, consequence.Check(consequence.UpdateConstraint{Metric: "joy"}))
	require.Error(t, consequence.Check(consequence.UpdateStakeholder{StakeholderID: "sh"}))
	require.Error(t, consequence.Check(consequence.Unknown{Type: "x"}))
	desc := consequence.Describe(consequence.UnlockApp{AppID: "files"})
	require.Equal(t, "unlock_app", desc["type"])
}
