package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ascend/internal/config"
	"ascend/internal/db"
)

func TestOpenDefaultsWithoutConfig(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), InMemory: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, a.Config.Game.StartLevel)
	require.NotNil(t, a.Repo)
	require.Len(t, a.Content.Trees(), 6)

	s, err := a.Sessions.Create(context.Background(), "p1")
	require.NoError(t, err)
	got, err := a.Repo.GetSession(context.Background(), s.ID())
	require.NoError(t, err)
	require.Equal(t, "p1", got.PlayerID)
}

func TestOpenWithStorageDisabled(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("storage:\n  enabled: false\n"), 0o644))

	a, err := Open(context.Background(), Options{Workspace: ws, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.DB)
	require.Nil(t, a.Repo)
	_, err = os.Stat(db.Path(ws))
	require.True(t, os.IsNotExist(err))
	_, err = a.Sessions.Create(context.Background(), "")
	require.NoError(t, err)
}

func TestOpenFileJournal(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	_, err = os.Stat(db.Path(ws))
	require.NoError(t, err)
}

func TestContentDirResolvesAgainstWorkspace(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "", ContentDir("/ws", cfg))
	cfg.Content.Dir = "packs/level1"
	require.Equal(t, filepath.Join("/ws", "packs/level1"), ContentDir("/ws", cfg))
	cfg.Content.Dir = "/abs/pack"
	require.Equal(t, "/abs/pack", ContentDir("/ws", cfg))
}

func TestOpenRejectsBrokenContentDir(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("content:\n  dir: missing\nstorage:\n  enabled: false\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws, Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
}
