package session

import (
	"ascend/internal/config"
	"ascend/internal/content"
	"ascend/internal/gamestate"
)

// Seed combines the configured starting point with the content pack's
// people and game-over catalogue.
func Seed(cfg *config.Config, store *content.Store) gamestate.Seed {
	if cfg == nil {
		cfg = config.Default()
	}
	reasons := map[string]gamestate.Reason{}
	for _, code := range store.Reasons() {
		r, _ := store.Reason(code)
		reasons[code] = gamestate.Reason{Title: r.Title, Lesson: r.Lesson}
	}
	return gamestate.Seed{
		Level:            cfg.Game.StartLevel,
		LevelTitle:       cfg.Game.LevelTitle,
		Constraints:      cfg.Game.Constraints,
		UnlockedApps:     append([]string(nil), cfg.Game.UnlockedApps...),
		UnlockedContacts: append([]string(nil), cfg.Game.UnlockedContacts...),
		Contacts:         store.Contacts(),
		Stakeholders:     store.Stakeholders(),
		Decompositions:   store.Decompositions(),
		Reasons:          reasons,
	}
}
