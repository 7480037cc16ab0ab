package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ascend/internal/db"
	"ascend/internal/domain"
	"ascend/internal/migrate"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	v, err := migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return Repo{DB: conn, Now: func() time.Time { return clock }}
}

func strPtr(s string) *string { return &s }

func TestSessionsRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	for i, id := range []string{"s1", "s2"} {
		ts := time.Date(2025, 3, 1, 8, i, 0, 0, time.UTC).Format(time.RFC3339)
		require.NoError(t, r.InsertSession(ctx, domain.Session{ID: id, PlayerID: "p", Status: "active", CreatedAt: ts, UpdatedAt: ts}))
	}

	got, err := r.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "p", got.PlayerID)

	_, err = r.GetSession(ctx, "nope")
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, r.UpdateSessionStatus(ctx, "s1", "game_over"))
	require.True(t, errors.Is(r.UpdateSessionStatus(ctx, "nope", "closed"), ErrNotFound))

	all, err := r.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "s2", all[0].ID)

	over, err := r.ListSessions(ctx, "game_over", 10)
	require.NoError(t, err)
	require.Len(t, over, 1)
	require.Equal(t, "2025-03-01T09:00:00Z", over[0].UpdatedAt)
}

func TestEventsJournal(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertSession(ctx, domain.Session{ID: "s1", PlayerID: "p", Status: "active", CreatedAt: "x", UpdatedAt: "x"}))

	require.NoError(t, r.AppendEvent(ctx, domain.Event{Type: "session.created", SessionID: "s1"}))
	require.NoError(t, r.AppendEvent(ctx, domain.Event{
		Type:      "dialogue.message",
		SessionID: "s1",
		ContactID: strPtr("contact_vane"),
		EntityID:  strPtr("vane_welcome"),
		Payload:   map[string]any{"text": "Welcome aboard."},
	}))
	require.NoError(t, r.AppendEvent(ctx, domain.Event{Type: "dialogue.choice", SessionID: "s1", ContactID: strPtr("contact_vane")}))

	latest, err := r.LatestEvents(ctx, 2, EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "dialogue.choice", latest[0].Type)
	require.Equal(t, "Welcome aboard.", latest[1].Payload["text"])
	require.Equal(t, "vane_welcome", *latest[1].EntityID)

	older, err := r.LatestEvents(ctx, 10, EventFilter{SessionID: "s1", Before: latest[1].ID})
	require.NoError(t, err)
	require.Len(t, older, 1)
	require.Nil(t, older[0].ContactID)
	require.Empty(t, older[0].Payload)

	byType, err := r.LatestEvents(ctx, 10, EventFilter{Type: "dialogue.message", ContactID: "contact_vane"})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	after, err := r.EventsAfter(ctx, 0, older[0].ID, "s1")
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, "dialogue.message", after[0].Type)

	require.Error(t, r.AppendEvent(ctx, domain.Event{Type: "x", SessionID: "missing"}), "foreign key must reject unknown sessions")
}

func TestMigrateIsIdempotent(t *testing.T) {
	r := newRepo(t)
	v, err := migrate.Migrate(context.Background(), r.DB)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}
