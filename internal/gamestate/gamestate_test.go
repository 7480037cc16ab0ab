package gamestate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"ascend/internal/domain"
)

func testSeed() Seed {
	return Seed{
		Level:       1,
		LevelTitle:  "The Handover",
		Constraints: domain.Constraints{Schedule: 100, Budget: 100, Morale: 100, Scope: 50},
		UnlockedApps: []string{
			"chatter",
		},
		UnlockedContacts: []string{"contact_vane"},
		Contacts: []domain.Contact{
			{ID: "contact_vane", Name: "Director Vane"},
			{ID: "contact_team", Name: "Project Team"},
		},
		Stakeholders: []domain.Stakeholder{
			{ID: "sh_vane", Name: "Director Vane", Attitude: domain.AttitudeSupportive, IsIdentified: true},
			{ID: "sh_entire_company", Name: "The Entire Company", Attitude: domain.AttitudeNeutral},
			{ID: "sh_marcus", Name: "Marcus", Attitude: domain.AttitudeResistant},
		},
		Decompositions: map[string][]domain.Stakeholder{
			"sh_entire_company": {
				{ID: "sh_hr", Name: "HR"},
				{ID: "sh_it", Name: "IT Support"},
				{ID: "sh_managers", Name: "Department Managers"},
			},
		},
		Reasons: map[string]Reason{
			"UNAUTHORIZED_SPEND": {Title: "UNAUTHORIZED SPEND", Lesson: "Sign the charter first."},
		},
	}
}

func newTestState() *State {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(testSeed(), WithClock(func() time.Time { return fixed }))
}

func TestConstraintClamp(t *testing.T) {
	s := newTestState()
	if v, err := s.AdjustConstraint(domain.MetricBudget, -70); err != nil || v != 30 {
		t.Fatalf("first adjust: %d %v", v, err)
	}
	if v, err := s.AdjustConstraint(domain.MetricBudget, -70); err != nil || v != 0 {
		t.Fatalf("second adjust should clamp to 0, got %d %v", v, err)
	}
	if v, _ := s.AdjustConstraint(domain.MetricScope, 80); v != 100 {
		t.Fatalf("scope should clamp to 100, got %d", v)
	}
	if _, err := s.AdjustConstraint("velocity", 5); !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("expected unknown metric, got %v", err)
	}
}

func TestDecomposeReplacesParentInPlace(t *testing.T) {
	s := newTestState()
	ids, err := s.DecomposeStakeholder("sh_entire_company")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 children, got %v", ids)
	}
	got := s.Stakeholders()
	want := []string{"sh_vane", "sh_hr", "sh_it", "sh_managers", "sh_marcus"}
	if len(got) != len(want) {
		t.Fatalf("expected %d stakeholders, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s got %s", i, id, got[i].ID)
		}
	}
	for _, sh := range got[1:4] {
		if sh.ParentStakeholderID != "sh_entire_company" || !sh.IsIdentified {
			t.Fatalf("child not tagged: %+v", sh)
		}
	}
	if _, ok := s.Stakeholder("sh_entire_company"); ok {
		t.Fatalf("parent should be gone")
	}

	if _, err := s.DecomposeStakeholder("sh_entire_company"); err != nil {
		t.Fatalf("second decompose: %v", err)
	}
	if len(s.Stakeholders()) != 5 {
		t.Fatalf("repeat decomposition duplicated children")
	}
	if _, err := s.DecomposeStakeholder("sh_marcus"); !errors.Is(err, ErrNoDecomposition) {
		t.Fatalf("expected no decomposition error, got %v", err)
	}
}

func TestStakeholderUpdates(t *testing.T) {
	s := newTestState()
	yes := true
	if err := s.UpdateStakeholder("sh_marcus", &yes, domain.AttitudeNeutral); err != nil {
		t.Fatalf("update: %v", err)
	}
	sh, _ := s.Stakeholder("sh_marcus")
	if !sh.IsIdentified || sh.Attitude != domain.AttitudeNeutral {
		t.Fatalf("unexpected stakeholder %+v", sh)
	}
	if err := s.IdentifyStakeholder("sh_ghost"); !errors.Is(err, ErrUnknownStakeholder) {
		t.Fatalf("expected unknown stakeholder, got %v", err)
	}
}

func TestContactsAndPreview(t *testing.T) {
	s := newTestState()
	if len(s.Contacts()) != 1 {
		t.Fatalf("expected only the seeded contact unlocked")
	}
	if err := s.UnlockContact("contact_team", true); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	c, _ := s.Contact("contact_team")
	if !c.IsUnlocked || !c.HasUnread {
		t.Fatalf("unexpected contact %+v", c)
	}
	long := strings.Repeat("x", 60)
	if err := s.RecordMessage("contact_team", long, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = s.MarkContactRead("contact_team")
	c, _ = s.Contact("contact_team")
	if c.LastMessage != strings.Repeat("x", 50)+"..." || c.HasUnread {
		t.Fatalf("unexpected preview state %+v", c)
	}
	if err := s.UnlockContact("contact_ghost", true); !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("expected unknown contact, got %v", err)
	}
}

func TestInventoryDedupAndGameOver(t *testing.T) {
	s := newTestState()
	item := domain.EvidenceItem{ID: "ev_market_analysis", Name: "Market Analysis"}
	_ = s.AddItem(item)
	_ = s.AddItem(item)
	if len(s.Inventory()) != 1 {
		t.Fatalf("expected a single inventory entry")
	}

	_ = s.EndGame("UNAUTHORIZED_SPEND", "no charter")
	_ = s.EndGame("BUDGET_DEPLETED", "later")
	over, ok := s.GameOver()
	if !ok || over.Reason != "UNAUTHORIZED_SPEND" || over.Lesson == "" {
		t.Fatalf("unexpected game over %+v", over)
	}

	s.Reset()
	if _, ok := s.GameOver(); ok {
		t.Fatalf("reset should clear game over")
	}
	if len(s.Inventory()) != 0 || s.Constraints().Scope != 50 {
		t.Fatalf("reset did not restore seed")
	}
}

func TestNotificationsDismiss(t *testing.T) {
	s := newTestState()
	_ = s.Notify(domain.Notification{ID: "n1", Title: "a"})
	_ = s.Notify(domain.Notification{ID: "n2", Title: "b"})
	if err := s.DismissNotification("n1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if got := s.Notifications(); len(got) != 1 || got[0].ID != "n2" {
		t.Fatalf("unexpected notifications %+v", got)
	}
	if err := s.DismissNotification("n1"); !errors.Is(err, ErrUnknownNotification) {
		t.Fatalf("expected unknown notification, got %v", err)
	}
}
