package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hoccoo/internal/app"
	"hoccoo/internal/config"
	"hoccoo/internal/db"
	"hoccoo/internal/domain"
	"hoccoo/internal/engine"
	"hoccoo/internal/events"
	"hoccoo/internal/gacha"
	"hoccoo/internal/reveal"
	"hoccoo/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hq",
	Short: "Hoccoo Quest CLI",
	Long: `Hoccoo Quest turns cross-department small talk into a card game.
- Hand: every user holds a fixed number of quests, each asking for a small action with one colleague.
- Board: posts about what you did. A post that names the quest's colleague and mentions the action completes it and earns its points.
- Mulligan: a lunch post with a companion throws the whole hand away and deals a new one.
- Pull: draw a fresh hand at any time.
- Rewards: a separate gacha of prizes by rarity.
- Event log: diary of what happened, view with 'hq log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOCCOO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/hoccoo.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(handCmd())
	rootCmd.AddCommand(pullCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(peopleCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func loginCmd() *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with the shared password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = viper.GetString("password")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				sess, err := a.Engine.Login(ctx, user, password)
				if err != nil {
					return err
				}
				hand, err := a.Engine.Hand(ctx, sess.User)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": sess.User, "hand": hand})
				}
				fmt.Printf("logged in as %s\n", sess.User)
				printHand(hand)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "shared password (or HOCCOO_PASSWORD)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if err := a.Engine.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user and points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				pts, err := a.Engine.Points(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": user, "points": pts})
				}
				fmt.Printf("%s (%d pt)\n", user, pts)
				return nil
			})
		},
	}
}

func handCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hand",
		Short: "Show your active quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				hand, err := a.Engine.EnsureHand(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hand)
				}
				printHand(hand)
				return nil
			})
		},
	}
}

func pullCmd() *cobra.Command {
	var noReveal bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Discard your hand and draw a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				if !noReveal && !viper.GetBool("json") {
					seq := reveal.FromConfig(a.Config.Reveal)
					if err := seq.Run(ctx, func(line string) { fmt.Println(line) }); err != nil {
						return err
					}
				}
				hand, err := a.Engine.Pull(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hand)
				}
				printHand(hand)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noReveal, "no-reveal", false, "skip the reveal animation")
	return cmd
}

func postCmd() *cobra.Command {
	var postType, with, body string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post to the board",
		Long:  "Post types: chat, complete, lunch, share. A lunch post with --with rerolls your whole hand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" && len(args) > 0 {
				body = strings.Join(args, " ")
			}
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				res, err := a.Engine.SubmitPost(ctx, user, engine.PostInput{
					Type:     domain.PostType(postType),
					WithWhom: with,
					Body:     body,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("posted %s\n", res.Post.ID)
				if res.Completed != nil {
					fmt.Printf("quest completed: %s (+%d pt, total %d)\n", res.Completed.Text, res.Awarded, res.Points)
				}
				if res.Rerolled {
					fmt.Println("hand rerolled")
				}
				printHand(res.Hand)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&postType, "type", string(domain.PostChat), "post type (chat|complete|lunch|share)")
	cmd.Flags().StringVar(&with, "with", "", "person id the post is about")
	cmd.Flags().StringVar(&body, "body", "", "post text")
	return cmd
}

func boardCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the bulletin board, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				posts, err := a.Engine.Posts(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(posts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"When", "Author", "Type", "With", "Body"})
				for _, p := range posts {
					tw.AppendRow(table.Row{p.CreatedAt, p.Author, p.Type, p.WithWhomLabel, p.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of posts (0 for all)")
	return cmd
}

func peopleCmd() *cobra.Command {
	people := &cobra.Command{Use: "people", Short: "Manage the roster of quest targets"}
	people.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List people",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.People(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Dept", "Name"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Department, p.Name})
				}
				tw.Render()
				return nil
			})
		},
	})

	var dept, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				p, err := a.Engine.AddPerson(ctx, user, dept, name)
				if err != nil {
					return err
				}
				return printJSONOrText(p, fmt.Sprintf("added %s (%s)", p.Label(), p.ID))
			})
		},
	}
	add.Flags().StringVar(&dept, "dept", "", "department")
	add.Flags().StringVar(&name, "name", "", "name")
	people.AddCommand(add)

	people.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				if err := a.Engine.RemovePerson(ctx, user, args[0]); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", args[0])
				return nil
			})
		},
	})
	return people
}

func rankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Show the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				board, err := a.Engine.Leaderboard(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "User", "Points"})
				for _, e := range board {
					tw.AppendRow(table.Row{e.Rank, e.User, e.Points})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func rewardsCmd() *cobra.Command {
	rewards := &cobra.Command{Use: "rewards", Short: "Reward gacha"}
	rewards.AddCommand(&cobra.Command{
		Use:   "draw",
		Short: "Roll a reward hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, a *app.Context, user string) error {
				draws, err := a.Engine.DrawRewards(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(draws)
				}
				printDraws(draws)
				return nil
			})
		},
	})
	return rewards
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
		Long:  "Config lives in hoccoo.yml: the shared password, hand size, action catalog, initial roster, reward pool and log settings. Missing sections fall back to built-in defaults.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(options())
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(options())
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default hoccoo.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: logins, pulls, posts, completed quests and roster changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f events.Filter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Events.Latest(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
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
				return fmt.Errorf("HOCCOO_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Events:   &a.Events,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, Logger: a.Logger},
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, a.Events, a.Config.Webhooks, a.Logger)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving Hoccoo API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for session tokens (or HOCCOO_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func options() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, options())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withUser runs fn for the stored session's user.
func withUser(ctx context.Context, fn func(context.Context, *app.Context, string) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		user, err := a.Engine.CurrentUser(ctx)
		if errors.Is(err, engine.ErrNotAuthenticated) {
			return fmt.Errorf("%w: run 'hq login --user <name>' first", err)
		}
		if err != nil {
			return err
		}
		return fn(ctx, a, user)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printHand(hand []domain.Quest) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Quest", "With", "Action", "Points", "Bonus"})
	for i, q := range hand {
		bonus := ""
		if q.Bonus > 0 {
			bonus = fmt.Sprintf("+%d", q.Bonus)
		}
		tw.AppendRow(table.Row{i + 1, q.Text, q.TargetPersonID, q.ActionLabel, q.Points, bonus})
	}
	tw.Render()
}

func printDraws(draws []gacha.Draw) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Rarity", "Item"})
	for i, d := range draws {
		name := "(empty)"
		if !d.Empty() {
			name = d.Item.Name
		}
		tw.AppendRow(table.Row{i + 1, d.Rarity, name})
	}
	tally := gacha.Tally(draws)
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d draws, %d tiers", len(draws), len(tally))})
	tw.Render()
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
