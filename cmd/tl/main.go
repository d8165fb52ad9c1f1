package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tracerline/internal/app"
	"tracerline/internal/config"
	"tracerline/internal/db"
	"tracerline/internal/domain"
	"tracerline/internal/engine"
	"tracerline/internal/repo"
	"tracerline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Tracerline CLI",
	Long: `Tracerline keeps the team statuses of product orders consistent and reports
traceability stream progress.
- Product order: the unit of work; each one carries a status for Planning, SAC, NT and Delivery.
- Vocabulary: the statuses a team may use; Delivery only knows "Sent" and "Not Sent".
- Returned: a status that asks for feedback explaining why work came back.
- Stream: an ordered list of sections; a section is complete once a file is attached.
- Activity log: every accepted change is recorded, view it with 'tl log tail'.`,
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
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRACERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user recorded in the activity log")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides tracerline.yml")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(vocabCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(sectionCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func statusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Team statuses of a product order",
		Long:  "Each product order carries one status per team. Reading never writes. Delivery drift is shown repaired until 'tl status normalize' persists the fix; other illegal stored values are reported as errors.",
	}
	st.AddCommand(statusListCmd())
	st.AddCommand(statusShowCmd())
	st.AddCommand(statusSetCmd())
	st.AddCommand(statusFeedbackCmd())
	st.AddCommand(statusNormalizeCmd())
	return st
}

func statusListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List product orders with statuses or streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orders, err := r.ListProductOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Product order"})
				for _, po := range orders {
					tw.AppendRow(table.Row{po})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statusShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <product-order>",
		Short: "Show team statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				set, err := e.TeamStatuses(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(set)
				}
				printStatusTable(set)
				return nil
			})
		},
	}
	return cmd
}

func statusSetCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "set <product-order> <team> <status>",
		Short: "Set a team's status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := domain.ParseTeam(args[1])
			if err != nil {
				return err
			}
			u := engine.StatusUpdate{
				ProductOrder: args[0],
				Team:         team,
				Status:       domain.Status(args[2]),
				UserID:       viper.GetString("user-id"),
			}
			if cmd.Flags().Changed("feedback") {
				u.Feedback = &feedback
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.SetTeamStatus(ctx, u)
				if err != nil {
					return err
				}
				return printChange(change)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback to store with the status")
	return cmd
}

func statusFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback <product-order> <team> <text>",
		Short: "Replace a team's feedback",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := domain.ParseTeam(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.SetTeamFeedback(ctx, args[0], team, args[2], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printChange(change)
			})
		},
	}
	return cmd
}

func statusNormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize <product-order>",
		Short: "Repair and persist illegal statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.NormalizeTeamStatuses(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printChange(change)
			})
		},
	}
	return cmd
}

func vocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "List the status vocabulary of every team",
		RunE: func(cmd *cobra.Command, args []string) error {
			type entry struct {
				Team     domain.Team     `json:"team"`
				Initial  domain.Status   `json:"initial"`
				Statuses []domain.Status `json:"statuses"`
			}
			var out []entry
			for _, t := range domain.Teams {
				v, _ := domain.Vocabulary(t)
				initial, _ := domain.InitialStatus(t)
				out = append(out, entry{Team: t, Initial: initial, Statuses: v})
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Team", "Initial", "Statuses"})
			for _, e := range out {
				names := make([]string, 0, len(e.Statuses))
				for _, s := range e.Statuses {
					names = append(names, styledStatus(s))
				}
				tw.AppendRow(table.Row{e.Team, e.Initial, strings.Join(names, ", ")})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func streamCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "stream",
		Short: "Manage traceability streams",
	}
	s.AddCommand(streamImportCmd())
	s.AddCommand(streamListCmd())
	s.AddCommand(streamShowCmd())
	return s
}

func streamImportCmd() *cobra.Command {
	var productOrder string
	cmd := &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Create a stream from a YAML definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.LoadStreamFile(args[0])
			if err != nil {
				return err
			}
			if productOrder != "" {
				s.ProductOrder = productOrder
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.CreateStream(ctx, s, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				warnAudit(change.AuditErr)
				if viper.GetBool("json") {
					return printJSON(change)
				}
				fmt.Printf("Created stream %s (%d sections) for %s\n", change.Stream.ID, len(change.Stream.Sections), change.Stream.ProductOrder)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&productOrder, "product-order", "", "override the file's product order")
	return cmd
}

func streamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <product-order>",
		Short: "List streams of a product order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStreams(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Sections", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, len(s.Sections), s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func streamShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <stream-id>",
		Short: "Show a stream and its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetStream(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printStream(s)
				return nil
			})
		},
	}
	return cmd
}

func sectionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "section",
		Short: "Edit stream sections",
	}
	s.AddCommand(sectionAttachCmd())
	s.AddCommand(sectionDetachCmd())
	s.AddCommand(sectionUpdateCmd())
	return s
}

func sectionAttachCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "attach <stream-id> <position> <file-name>",
		Short: "Attach a file reference",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.AttachFile(ctx, args[0], pos, domain.FileRef{Name: args[2], URL: url}, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printStreamChange(change)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "file location")
	return cmd
}

func sectionDetachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detach <stream-id> <position> <file-id>",
		Short: "Detach a file reference",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.DetachFile(ctx, args[0], pos, args[2], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printStreamChange(change)
			})
		},
	}
	return cmd
}

func sectionUpdateCmd() *cobra.Command {
	var name, description, assignee, notes string
	var required bool
	var teams []string
	cmd := &cobra.Command{
		Use:   "update <stream-id> <position>",
		Short: "Update section content",
		Long:  "Only flags that are given change the section. Pass an empty --assignee or --notes to clear them.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			var p engine.SectionPatch
			if cmd.Flags().Changed("name") {
				p.Name = &name
			}
			if cmd.Flags().Changed("description") {
				p.Description = &description
			}
			if cmd.Flags().Changed("assignee") {
				p.AssignedUser = &assignee
			}
			if cmd.Flags().Changed("notes") {
				p.Notes = &notes
			}
			if cmd.Flags().Changed("required") {
				p.Required = &required
			}
			if cmd.Flags().Changed("teams") {
				p.SetTeams = true
				for _, t := range teams {
					team, err := domain.ParseTeam(t)
					if err != nil {
						return err
					}
					p.Teams = append(p.Teams, team)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				change, err := e.UpdateSection(ctx, args[0], pos, p, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printStreamChange(change)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "section name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assigned user")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&required, "required", false, "section must have a file to count as complete")
	cmd.Flags().StringSliceVar(&teams, "teams", nil, "teams the section belongs to (comma separated)")
	return cmd
}

func progressCmd() *cobra.Command {
	var round bool
	cmd := &cobra.Command{
		Use:   "progress <stream-id>",
		Short: "Per-team and overall completion of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var roundPtr *bool
			if cmd.Flags().Changed("round") {
				roundPtr = &round
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Progress(ctx, args[0], roundPtr)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Planning", "SAC", "NT", "Overall"})
				tw.AppendRow(table.Row{
					fmt.Sprintf("%d%%", p.Teams.Planning),
					fmt.Sprintf("%d%%", p.Teams.SAC),
					fmt.Sprintf("%d%%", p.Teams.NT),
					fmt.Sprintf("%g%%", p.Overall),
				})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&round, "round", false, "round the overall percentage (defaults to progress.round_overall)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
		Long:  "Every accepted status, feedback, normalization and section change, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var productOrder, activityType, team, streamID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail activity entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				filter := repo.ActivityFilter{ProductOrder: productOrder, ActivityType: activityType, StreamID: streamID}
				if team != "" {
					t, err := domain.ParseTeam(team)
					if err != nil {
						return err
					}
					filter.Team = string(t)
				}
				items, err := r.LatestActivity(ctx, n, 0, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "User", "Type", "Product order", "Team", "Change"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Timestamp, a.UserID, a.ActivityType, a.ProductOrderNumber, a.Team, describeActivity(a)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&productOrder, "product-order", "", "filter by product order")
	cmd.Flags().StringVar(&activityType, "type", "", "filter by activity type")
	cmd.Flags().StringVar(&team, "team", "", "filter by team")
	cmd.Flags().StringVar(&streamID, "stream", "", "filter by stream id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "tracerline.yml in the workspace holds storage, logging, server, progress and audit webhook settings. Defaults apply when the file is absent.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectiveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

// effectiveConfig is the workspace file with TRACERLINE_* overrides applied,
// the same view app.Open works from.
func effectiveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tracerline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.LoadOptional(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tracerline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the HTTP API and forwards new activity to configured audit webhooks. Set TRACERLINE_JWT_SECRET to identify callers by bearer token subject.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			if !cmd.Flags().Changed("addr") && ws.Config.Server.Addr != "" {
				addr = ws.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && ws.Config.Server.BasePath != "" {
				basePath = ws.Config.Server.BasePath
			}
			logger := ws.Engine.Logger
			identity := server.IdentityConfig{
				JWTSecret:       viper.GetString("jwt-secret"),
				AllowUserHeader: allowUserHeader,
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Identity: identity, Logger: logger})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			dispatcher := server.NewWebhookDispatcher(ws.Engine.Repo, ws.Config.Audit.Webhooks, logger)
			go dispatcher.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath, "webhooks", len(ws.Config.Audit.Webhooks))
			fmt.Printf("Serving Tracerline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept X-User-Id when no bearer token is sent (always on without a JWT secret)")
	return cmd
}

func openWorkspace(ctx context.Context) (*app.Workspace, error) {
	return app.Open(ctx, viper.GetString("workspace"), app.Options{
		LogLevel:  viper.GetString("log-level"),
		LogOutput: os.Stderr,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	ws, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine.Repo)
}

func printChange(change engine.Change) error {
	warnAudit(change.AuditErr)
	if viper.GetBool("json") {
		return printJSON(change)
	}
	printStatusTable(change.Set)
	for _, a := range change.Activity {
		fmt.Printf("recorded %s: %s\n", a.ActivityType, describeActivity(a))
	}
	if len(change.Activity) == 0 {
		fmt.Println("no change")
	}
	return nil
}

func printStreamChange(change engine.StreamChange) error {
	warnAudit(change.AuditErr)
	if viper.GetBool("json") {
		return printJSON(change)
	}
	printStream(change.Stream)
	return nil
}

func warnAudit(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: change saved but activity not recorded:", err)
	}
}

func printStatusTable(set domain.TeamStatusSet) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(set.ProductOrder)
	tw.AppendHeader(table.Row{"Team", "Status", "Feedback"})
	for _, r := range set.Records {
		feedback := r.Feedback
		if engine.RequiresFeedback(r) && feedback == "" {
			feedback = warningStyle.Render("(feedback required)")
		}
		tw.AppendRow(table.Row{r.Team, styledStatus(r.Status), feedback})
	}
	tw.Render()
}

func printStream(s domain.TracerStream) {
	fmt.Printf("Stream %s %q (%s)\n", s.ID, s.Name, s.ProductOrder)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pos", "Name", "Required", "Teams", "Files", "Assignee", "Done"})
	for _, sec := range s.Sections {
		teams := make([]string, 0, len(sec.Teams))
		for _, t := range sec.Teams {
			teams = append(teams, string(t))
		}
		files := make([]string, 0, len(sec.Files))
		for _, f := range sec.Files {
			files = append(files, f.Name+" ["+f.ID+"]")
		}
		assignee := ""
		if sec.AssignedUser != nil {
			assignee = *sec.AssignedUser
		}
		tw.AppendRow(table.Row{sec.Position, sec.Name, sec.Required, strings.Join(teams, ","), strings.Join(files, "\n"), assignee, styledDone(engine.IsSatisfied(sec))})
	}
	tw.Render()
}

func describeActivity(a domain.ActivityLogEntry) string {
	switch a.ActivityType {
	case domain.ActivityStatusUpdated, domain.ActivityStatusNormalized:
		return fmt.Sprintf("%s -> %s", a.PreviousStatus, a.TeamStatus)
	case domain.ActivityFeedbackUpdated:
		return fmt.Sprintf("feedback %q", a.Feedback)
	default:
		if a.Section != nil {
			return fmt.Sprintf("stream %s section %d", a.TraceabilityStream, *a.Section)
		}
		return "stream " + a.TraceabilityStream
	}
}

func parsePosition(s string) (int, error) {
	pos, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid section position %q", s)
	}
	return pos, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
