package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ascend/internal/app"
	"ascend/internal/content"
	"ascend/internal/domain"
	"ascend/internal/engine"
	"ascend/internal/processmap"
	"ascend/internal/session"
)

const playHelp = `commands:
  contacts                 list contacts
  open <contact>           open a conversation (id or name)
  <number> | <label>       answer with one of the offered choices
  skip                     reveal the pending message now
  status                   show constraints and inventory
  task <document>          show the active task for a document
  highlight <task> <id>    submit a highlight for a task
  process <id>             put a process card on the bench
  assign <slot> <doc>      slot an inventory item or generated document
  execute                  run the selected process
  reset                    restart the game
  quit                     leave`

func playCmd() *cobra.Command {
	var playerID string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a session line by line without typing delays",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			if viper.GetBool("verbose") {
				log = nil
			}
			p, closeFn, err := startPlay(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Verbose:   viper.GetBool("verbose"),
				Logger:    log,
			}, playerID, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeFn()
			return p.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&playerID, "player", "", "player id")
	return cmd
}

// player is a line-oriented client. Timers run on a manual clock that is
// drained after every command, so each answer settles before the next prompt.
type player struct {
	sess    *session.Session
	settle  func(context.Context) error
	out     io.Writer
	open    string
	shown   map[string]int
	notes   map[string]bool
	unread  map[string]bool
	overSet bool
}

func startPlay(ctx context.Context, opts app.Options, playerID string, out io.Writer) (*player, func(), error) {
	clock := engine.NewManualScheduler(time.Now())
	var loop *session.Loop
	opts.Sessions = append(opts.Sessions, session.WithScheduler(func(l *session.Loop) engine.Scheduler {
		loop = l
		return clock
	}))
	a, err := app.Open(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	s, err := a.Sessions.Create(ctx, playerID)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	p := &player{
		sess: s,
		settle: func(ctx context.Context) error {
			return loop.Do(ctx, func() { clock.RunAll() })
		},
		out:    out,
		shown:  map[string]int{},
		notes:  map[string]bool{},
		unread: map[string]bool{},
	}
	return p, func() { a.Close() }, nil
}

func (p *player) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(p.out, "Type 'help' for commands.")
	if err := p.show(ctx); err != nil {
		return err
	}
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(p.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(p.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		quit, err := p.exec(ctx, line)
		if err != nil {
			fmt.Fprintln(p.out, "error:", err)
		}
		if quit {
			return nil
		}
		if err := p.settle(ctx); err != nil {
			return err
		}
		if err := p.show(ctx); err != nil {
			return err
		}
	}
}

func (p *player) exec(ctx context.Context, line string) (bool, error) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(verb) {
	case "help", "?":
		fmt.Fprintln(p.out, playHelp)
		return false, nil
	case "quit", "exit":
		return true, nil
	case "contacts":
		contacts, err := p.sess.Contacts(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range contacts {
			mark := " "
			if c.HasUnread {
				mark = "*"
			}
			fmt.Fprintf(p.out, " %s %-20s %s\n", mark, c.ID, c.Name)
		}
		return false, nil
	case "open":
		contacts, err := p.sess.Contacts(ctx)
		if err != nil {
			return false, err
		}
		c, ok := matchContact(rest, contacts)
		if !ok {
			return false, fmt.Errorf("no contact matches %q", rest)
		}
		if _, err := p.sess.Begin(ctx, c.ID); err != nil {
			return false, err
		}
		p.open = c.ID
		fmt.Fprintf(p.out, "-- %s --\n", c.Name)
		return false, nil
	case "skip":
		if p.open == "" {
			return false, fmt.Errorf("open a contact first")
		}
		_, _, err := p.sess.Advance(ctx, p.open)
		return false, err
	case "status":
		view, err := p.sess.View(ctx)
		if err != nil {
			return false, err
		}
		g := view.Game
		fmt.Fprintf(p.out, "Level %d: %s\n", g.Level, g.LevelTitle)
		for _, m := range domain.Metrics {
			fmt.Fprintf(p.out, "  %-8s %3d\n", m, g.Constraints.Get(m))
		}
		fmt.Fprintf(p.out, "  apps: %s\n", strings.Join(g.UnlockedApps, ", "))
		fmt.Fprintf(p.out, "  inventory: %d items\n", len(g.Inventory))
		return false, nil
	case "task":
		t, err := p.sess.ActiveTask(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(p.out, "[%s] %s\n", t.ID, t.Prompt)
		if t.Hint != "" {
			fmt.Fprintf(p.out, "  hint: %s\n", t.Hint)
		}
		return false, nil
	case "highlight":
		taskID, hl, _ := strings.Cut(rest, " ")
		fb, err := p.sess.SubmitHighlight(ctx, taskID, strings.TrimSpace(hl))
		if err != nil {
			return false, err
		}
		verdict := "not quite"
		if fb.Correct {
			verdict = "correct"
		}
		fmt.Fprintf(p.out, "%s: %s\n", verdict, fb.Message)
		if fb.Educational != "" {
			fmt.Fprintf(p.out, "  %s\n", fb.Educational)
		}
		return false, nil
	case "process":
		sel, err := p.sess.SelectProcess(ctx, rest)
		if err != nil {
			return false, err
		}
		p.printSelection(sel)
		return false, nil
	case "assign":
		slot, doc, _ := strings.Cut(rest, " ")
		sel, err := p.sess.AssignInput(ctx, slot, strings.TrimSpace(doc))
		if err != nil {
			return false, err
		}
		p.printSelection(sel)
		return false, nil
	case "execute":
		exec, docs, err := p.sess.ExecuteProcess(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range docs {
			fmt.Fprintf(p.out, "generated %s (%s) quality %d\n", d.Name, d.ID, d.Quality)
		}
		fmt.Fprintf(p.out, "run %s quality %d\n", exec.ID, exec.Quality)
		return false, nil
	case "reset":
		if err := p.sess.Reset(ctx); err != nil {
			return false, err
		}
		p.open = ""
		p.shown = map[string]int{}
		p.notes = map[string]bool{}
		p.unread = map[string]bool{}
		p.overSet = false
		fmt.Fprintln(p.out, "game restarted")
		return false, nil
	}
	return false, p.answer(ctx, line)
}

func (p *player) printSelection(sel processmap.Selection) {
	fmt.Fprintf(p.out, "[%s] projected quality %d\n", sel.ProcessID, sel.Quality)
	if len(sel.Missing) > 0 {
		fmt.Fprintf(p.out, "  missing: %s\n", strings.Join(sel.Missing, ", "))
	}
}

func (p *player) answer(ctx context.Context, input string) error {
	if p.open == "" {
		return fmt.Errorf("unknown command %q; open a contact first", input)
	}
	conv, node, err := p.sess.Conversation(ctx, p.open)
	if err != nil {
		return err
	}
	if !conv.AwaitingChoice || node == nil {
		return fmt.Errorf("nobody is waiting for an answer")
	}
	choice, ok := matchChoice(input, node.Choices)
	if !ok {
		return fmt.Errorf("no choice matches %q", input)
	}
	_, accepted, err := p.sess.Choose(ctx, p.open, choice.ID)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("choice %s was not accepted", choice.ID)
	}
	return nil
}

// show prints everything that happened since the last prompt.
func (p *player) show(ctx context.Context) error {
	view, err := p.sess.View(ctx)
	if err != nil {
		return err
	}
	for _, n := range view.Game.Notifications {
		if !p.notes[n.ID] {
			p.notes[n.ID] = true
			fmt.Fprintf(p.out, "! %s: %s\n", n.Title, n.Message)
		}
	}
	if p.open != "" {
		conv, node, err := p.sess.Conversation(ctx, p.open)
		if err != nil {
			return err
		}
		for _, m := range conv.Messages[min(p.shown[p.open], len(conv.Messages)):] {
			if m.IsPlayerChoice {
				fmt.Fprintf(p.out, "You: %s\n", m.Text)
				continue
			}
			fmt.Fprintf(p.out, "%s: %s\n", m.Speaker, m.Text)
		}
		p.shown[p.open] = len(conv.Messages)
		if conv.AwaitingChoice && node != nil {
			for i, c := range node.Choices {
				fmt.Fprintf(p.out, "  %d) %s\n", i+1, c.Label)
			}
		}
		if conv.Ended {
			fmt.Fprintln(p.out, "(conversation ended)")
		}
	}
	for _, c := range view.Game.Contacts {
		if !c.IsUnlocked || c.ID == p.open {
			continue
		}
		if c.HasUnread && !p.unread[c.ID] {
			fmt.Fprintf(p.out, "(new message from %s)\n", c.Name)
		}
		p.unread[c.ID] = c.HasUnread
	}
	if over := view.Game.GameOver; over != nil && !p.overSet {
		p.overSet = true
		fmt.Fprintf(p.out, "\n*** GAME OVER: %s ***\n%s\n", over.Title, over.Message)
		if over.Lesson != "" {
			fmt.Fprintln(p.out, over.Lesson)
		}
		fmt.Fprintln(p.out, "restart with 'reset'")
	}
	return nil
}

// matchChoice resolves player input to a choice by number, id, or the
// closest label within a third of its length in edits.
func matchChoice(input string, choices []content.Choice) (content.Choice, bool) {
	input = strings.TrimSpace(input)
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(choices) {
			return choices[n-1], true
		}
		return content.Choice{}, false
	}
	norm := strings.ToLower(input)
	best, bestDist := -1, math.MaxInt
	for i, c := range choices {
		if norm == strings.ToLower(c.ID) {
			return c, true
		}
		d := levenshtein.ComputeDistance(norm, strings.ToLower(c.Label))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist <= len(choices[best].Label)/3 {
		return choices[best], true
	}
	return content.Choice{}, false
}

func matchContact(input string, contacts []domain.Contact) (domain.Contact, bool) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return domain.Contact{}, false
	}
	for _, c := range contacts {
		if norm == c.ID || "contact_"+norm == c.ID {
			return c, true
		}
	}
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), norm) {
			return c, true
		}
	}
	best, bestDist := -1, math.MaxInt
	for i, c := range contacts {
		if d := levenshtein.ComputeDistance(norm, strings.ToLower(c.Name)); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist <= len(contacts[best].Name)/3 {
		return contacts[best], true
	}
	return domain.Contact{}, false
}
