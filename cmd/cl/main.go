package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clientline/internal/app"
	"clientline/internal/config"
	"clientline/internal/db"
	"clientline/internal/domain"
	"clientline/internal/repo"
	"clientline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Clientline CLI",
	Long: `Clientline tracks client projects through a status workflow.
- Workspace: your .clientline directory with the database; the catalog lives in clientline.yml.
- Projects: client work items with a granular status plus a coarse legacy status.
- Status: the current lifecycle stage; transitions follow the configured graph.
- Sub-status: a qualifier inside a stage, like CLARIFICATION_NEEDED.
- Clarifications: questions to the client that flag the project until answered.
- Health: EXCELLENT/GOOD/AT_RISK/CRITICAL assessment with free-form factors.
- Event log: diary of changes, view with 'cl log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLIENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(clarifyCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default clientline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, clientID, clientName, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor := viper.GetString("actor-id")
				if err := a.Engine.Repo.EnsureActor(ctx, domain.Actor{
					ID:        clientID,
					Name:      clientName,
					Role:      "client",
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}); err != nil {
					return err
				}
				p, err := a.Engine.CreateProject(ctx, id, clientID, name, actor)
				if err != nil {
					return err
				}
				if _, err := a.Engine.InitializeStatus(ctx, p.ID, "", actor); err != nil {
					return err
				}
				p, err = a.Engine.Repo.GetProject(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&clientID, "client", "", "client actor id")
	cmd.Flags().StringVar(&clientName, "client-name", "", "client display name")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.ClientID, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	st := &cobra.Command{Use: "status", Short: "Project status workflow"}
	st.AddCommand(statusShowCmd())
	st.AddCommand(statusInitCmd())
	st.AddCommand(statusTransitionCmd())
	st.AddCommand(statusSubCmd())
	st.AddCommand(statusHistoryCmd())
	st.AddCommand(statusCatalogCmd())
	return st
}

func statusShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show status, health and valid next steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.EnsureStatusData(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(data)
			})
		},
	}
	return cmd
}

func statusInitCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "init <project-id>",
		Short: "Initialize status tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				state, err := a.Engine.InitializeStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(state)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "initial status code (default from config)")
	return cmd
}

func statusTransitionCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "transition <project-id> <status-code>",
		Short: "Move a project to the next status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Engine.TransitionStatus(ctx, args[0], args[1], viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSON(data)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "transition notes")
	return cmd
}

func statusSubCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "sub <project-id> <sub-status>",
		Short: "Set a sub-status (use NONE to clear)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				state, err := a.Engine.SetSubStatus(ctx, args[0], args[1], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(state)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the sub-status")
	return cmd
}

func statusHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show the status history ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.GetStatusHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "From", "To", "Duration", "By", "Notes"})
				for _, e := range entries {
					to := ""
					if e.ToDate != nil {
						to = *e.ToDate
					}
					dur := ""
					if e.DurationSeconds != nil {
						dur = (time.Duration(*e.DurationSeconds) * time.Second).String()
					}
					notes := ""
					if e.Notes != nil {
						notes = *e.Notes
					}
					tw.AppendRow(table.Row{e.StatusCode, e.FromDate, to, dur, e.ChangedByID, notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries")
	return cmd
}

func statusCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the status catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				statuses := a.Catalog.Statuses()
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "Code", "Name", "Category", "Client Visible", "Next"})
				for _, s := range statuses {
					next, _ := a.Catalog.ValidNext(s.Code)
					codes := make([]string, len(next))
					for i, n := range next {
						codes[i] = n.Code
					}
					tw.AppendRow(table.Row{s.Order, s.Code, s.Name, s.Category, s.ClientVisible, strings.Join(codes, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func clarifyCmd() *cobra.Command {
	cl := &cobra.Command{Use: "clarify", Short: "Client clarifications"}
	cl.AddCommand(clarifyRequestCmd())
	cl.AddCommand(clarifyRespondCmd())
	cl.AddCommand(clarifyListCmd())
	return cl
}

func clarifyRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <project-id> <question>",
		Short: "Ask the client for clarification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.RequestClarification(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	return cmd
}

func clarifyRespondCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "respond <clarification-id> <response>",
		Short: "Record the client's response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.RespondToClarification(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
	return cmd
}

func clarifyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List clarifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.GetClarifications(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Question", "Requested By", "Response"})
				for _, c := range items {
					resp := ""
					if c.Response != nil {
						resp = *c.Response
					}
					by := c.RequestedByName
					if by == "" {
						by = c.RequestedByID
					}
					tw.AppendRow(table.Row{c.ID, c.Status, c.Question, by, resp})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func healthCmd() *cobra.Command {
	h := &cobra.Command{Use: "health", Short: "Project health assessment"}
	var factors []string
	set := &cobra.Command{
		Use:   "set <project-id> <status>",
		Short: "Set overall health (EXCELLENT, GOOD, AT_RISK, CRITICAL)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fm := map[string]string{}
				for _, f := range factors {
					k, v, ok := strings.Cut(f, "=")
					if !ok {
						return fmt.Errorf("factor %q must be key=value", f)
					}
					fm[k] = v
				}
				state, err := a.Engine.UpdateHealth(ctx, args[0], args[1], fm, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(state)
			})
		},
	}
	set.Flags().StringArrayVar(&factors, "factor", nil, "health factor key=value (repeatable)")
	h.AddCommand(set)
	return h
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var projectID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	tail.Flags().StringVar(&projectID, "project", "", "filter by project")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	lg.AddCommand(tail)
	return lg
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyRevokeCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, actorName, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			if role != "admin" && role != "client" {
				return fmt.Errorf("--role must be admin or client")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.EnsureActor(ctx, domain.Actor{
					ID:        actorID,
					Name:      actorName,
					Role:      role,
					CreatedAt: now,
				}); err != nil {
					return err
				}
				rawKey := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: now,
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key (shown once): %s\n", rawKey)
				return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&actorName, "actor-name", "", "actor display name")
	cmd.Flags().StringVar(&role, "role", "client", "actor role (admin or client)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CLIENTLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CLIENTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Clientline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
