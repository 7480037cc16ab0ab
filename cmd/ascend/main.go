package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ascend/internal/app"
	"ascend/internal/config"
	"ascend/internal/content"
	"ascend/internal/repo"
	"ascend/internal/server"
	"ascend/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "ascend",
	Short: "Ascend dialogue engine",
	Long: `Ascend runs the chat conversations of a project-management training game.
Core concepts:
- Content pack: YAML dialogue trees, evidence, contacts and document tasks. The built-in pack is used unless config.content.dir points elsewhere.
- Session: one player's game. Contacts reveal messages with a typing delay and wait for the player's choice.
- Consequences: choices change constraints, unlock apps and contacts, add evidence, or end the game.
- Journal: every message, choice and consequence is recorded in .ascend/ascend.db; view it with 'ascend log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ASCEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(tuiCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(logCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage ascend.yml",
		Long:  "Config holds the starting game state, dialogue timing, content location, server and storage settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default ascend.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate ascend.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}
}

func contentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "content",
		Short: "Inspect the dialogue content pack",
	}
	c.AddCommand(contentValidateCmd())
	c.AddCommand(contentShowCmd())
	return c
}

func loadPack(dir string) (*content.Store, *config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := app.LoadConfig(workspace)
	if err != nil {
		return nil, nil, err
	}
	if dir != "" {
		cfg.Content.Dir = dir
	}
	store, err := app.LoadContent(workspace, cfg, nil)
	return store, cfg, err
}

func contentValidateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a content pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadPack(dir)
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil, "error": errString(err)}
				if store != nil {
					out["warnings"] = store.Warnings()
				}
				if jerr := printJSON(cmd.OutOrStdout(), out); jerr != nil {
					return jerr
				}
				return err
			}
			var verr *content.ValidationError
			if errors.As(err, &verr) {
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"#", "Issue"})
				for i, p := range verr.Issues {
					tw.AppendRow(table.Row{i + 1, p})
				}
				tw.Render()
				return fmt.Errorf("content pack has %d issues", len(verr.Issues))
			}
			if err != nil {
				return err
			}
			for _, w := range store.Warnings() {
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "content OK (%d trees, %d tasks)\n", len(store.Trees()), len(store.Tasks()))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "content directory (defaults to config.content.dir or the built-in pack)")
	return cmd
}

func contentShowCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List trees and document tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := loadPack(dir)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"trees": store.Trees(), "tasks": store.Tasks()})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Tree", "Contact", "Start", "Nodes"})
			for _, t := range store.Trees() {
				tw.AppendRow(table.Row{t.ID, t.ContactID, t.StartNodeID, len(t.Nodes())})
			}
			tw.Render()

			tasks := table.NewWriter()
			tasks.SetOutputMirror(cmd.OutOrStdout())
			tasks.AppendHeader(table.Row{"Task", "Document", "Type", "Level"})
			for _, t := range store.Tasks() {
				tasks.AppendRow(table.Row{t.ID, t.DocumentID, t.TaskType, t.LevelID})
			}
			tasks.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "content directory")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("ASCEND_JWT_SECRET is required for session tokens")
			}
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Verbose:   viper.GetBool("verbose"),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Sessions:       a.Sessions,
				Journal:        a.Repo,
				BasePath:       basePath,
				Auth:           server.AuthConfig{JWTSecret: secret},
				AllowedOrigins: a.Config.Server.AllowedOrigins,
				Logger:         a.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				a.Logger.Info("serving api", zap.String("addr", addr), zap.String("base_path", basePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if dir := app.ContentDir(a.Workspace, a.Config); a.Config.Content.Watch && dir != "" {
				g.Go(func() error {
					return content.Watch(ctx, dir, a.Logger, a.Sessions.SetContent,
						content.WithDefaultRevealDelay(a.Config.Dialogue.DefaultRevealDelayMs))
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving Ascend API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config.server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config.server.base_path)")
	return cmd
}

func tuiCmd() *cobra.Command {
	var playerID string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Play in the terminal chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				// keep zap output off the alternate screen
				Logger: zap.NewNop(),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			s, err := a.Sessions.Create(cmd.Context(), playerID)
			if err != nil {
				return err
			}
			return tui.Run(cmd.Context(), s)
		},
	}
	cmd.Flags().StringVar(&playerID, "player", "", "player id")
	return cmd
}

func sessionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "session",
		Short: "Inspect journaled sessions",
	}
	c.AddCommand(sessionListCmd())
	return c
}

func sessionListCmd() *cobra.Command {
	var status string
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListSessions(ctx, status, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Player", "Status", "Created", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.PlayerID, s.Status, s.CreatedAt, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, game_over, closed)")
	cmd.Flags().IntVar(&n, "n", 20, "number of sessions")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Read the event journal",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Session", "Contact", "Entity"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.SessionID, deref(e.ContactID), deref(e.EntityID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.SessionID, "session", "", "session id")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.ContactID, "contact", "", "contact id")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, *repo.Repo) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Logger: zap.NewNop()})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Repo == nil {
		return fmt.Errorf("storage is disabled in ascend.yml")
	}
	return fn(ctx, a.Repo)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
