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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"inspectline/internal/app"
	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/db"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
	"inspectline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Inspectline CLI",
	Long: `Inspectline runs quality inspections against authored templates.
Templates flow draft -> submitted -> manager_edit -> published; published
templates carry an AQL sampling plan. Inspections flow assigned ->
in_progress -> submitted -> completed, with per-question rules demanding
evidence and notifying managers, and failing lots opening corrective
actions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("INSPECTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user id")
	rootCmd.PersistentFlags().String("actor-role", "it", "acting user role (it, manager, inspector)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(inspectionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default inspectline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return printJSONOrIndent(a.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfgFile.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage inspection templates",
	}
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateSubmitCmd())
	tpl.AddCommand(templatePublishCmd())
	tpl.AddCommand(templateSamplingCmd())
	return tpl
}

func templateCreateCmd() *cobra.Command {
	var title, description, pagesFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TemplateCreateOptions{
				Title:       title,
				Description: description,
				CreatorID:   viper.GetString("actor-id"),
			}
			if pagesFile != "" {
				data, err := os.ReadFile(pagesFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &opts.Pages); err != nil {
					return fmt.Errorf("parse pages: %w", err)
				}
			}
			return withApp(func(a *app.App) error {
				t, err := a.Engine.CreateTemplate(context.Background(), opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&pagesFile, "pages-file", "", "JSON file with pages and questions")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func templateListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListTemplates(context.Background(), repo.TemplateFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Lot", "Sample"})
				for _, t := range items {
					lot, sample := "", ""
					if t.LotSize != nil {
						lot = fmt.Sprint(*t.LotSize)
					}
					if t.SampleSize != nil {
						sample = fmt.Sprint(*t.SampleSize)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, lot, sample})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				t, err := a.Engine.Repo.GetTemplate(context.Background(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
}

func templateSubmitCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit draft for manager review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				t, err := a.Engine.SubmitTemplate(context.Background(), args[0], managerID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager-id", "", "reviewing manager id")
	return cmd
}

func templatePublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				t, err := a.Engine.PublishTemplate(context.Background(), args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
}

func templateSamplingCmd() *cobra.Command {
	var lotSize int
	var aqlLevel float64
	cmd := &cobra.Command{
		Use:   "sampling <id>",
		Short: "Configure acceptance sampling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				t, err := a.Engine.ConfigureSampling(context.Background(), args[0], lotSize, aqlLevel, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().IntVar(&lotSize, "lot-size", 0, "lot size")
	cmd.Flags().Float64Var(&aqlLevel, "aql-level", 0, "AQL level (defaults from config)")
	_ = cmd.MarkFlagRequired("lot-size")
	return cmd
}

func inspectionCmd() *cobra.Command {
	ins := &cobra.Command{
		Use:   "inspection",
		Short: "Manage inspections",
	}
	ins.AddCommand(inspectionAssignCmd())
	ins.AddCommand(inspectionListCmd())
	ins.AddCommand(inspectionShowCmd())
	ins.AddCommand(inspectionStartCmd())
	ins.AddCommand(inspectionSubmitCmd())
	ins.AddCommand(inspectionApproveCmd())
	return ins
}

func inspectionAssignCmd() *cobra.Command {
	var templateID, inspectorID, scheduledAt string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a published template to an inspector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ins, err := a.Engine.AssignInspection(context.Background(), engine.AssignOptions{
					TemplateID:  templateID,
					InspectorID: inspectorID,
					ManagerID:   viper.GetString("actor-id"),
					ScheduledAt: scheduledAt,
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	cmd.Flags().StringVar(&inspectorID, "inspector", "", "inspector id")
	cmd.Flags().StringVar(&scheduledAt, "scheduled-at", "", "RFC3339 schedule time")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("inspector")
	return cmd
}

func inspectionListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inspections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListInspections(context.Background(), repo.InspectionFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Template", "Inspector", "Status", "AQL"})
				for _, i := range items {
					aql := ""
					if i.AQL != nil {
						if i.AQL.Effective.Passed {
							aql = "pass"
						} else {
							aql = "fail"
						}
					}
					tw.AppendRow(table.Row{i.ID, i.TemplateID, i.InspectorID, i.Status, aql})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func inspectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ins, err := a.Engine.Repo.GetInspection(context.Background(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
}

func inspectionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ins, err := a.Engine.StartInspection(context.Background(), args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
}

func inspectionSubmitCmd() *cobra.Command {
	var responsesFile, overrideDecision, overrideReason string
	var critical, major, minor int
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit inspection responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var responses map[string]any
			if responsesFile != "" {
				data, err := os.ReadFile(responsesFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &responses); err != nil {
					return fmt.Errorf("parse responses: %w", err)
				}
			}
			opts := engine.SubmitOptions{
				ID:        args[0],
				ActorID:   viper.GetString("actor-id"),
				ActorRole: viper.GetString("actor-role"),
				Responses: responses,
			}
			if cmd.Flags().Changed("critical") || cmd.Flags().Changed("major") || cmd.Flags().Changed("minor") {
				opts.DefectCounts = &domain.DefectCounts{Critical: critical, Major: major, Minor: minor}
			}
			if overrideDecision != "" {
				opts.Override = &engine.OverrideRequest{Decision: overrideDecision, Reason: overrideReason}
			}
			return withApp(func(a *app.App) error {
				ins, err := a.Engine.SubmitInspection(context.Background(), opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
	cmd.Flags().StringVar(&responsesFile, "responses-file", "", "JSON file with responses")
	cmd.Flags().IntVar(&critical, "critical", 0, "critical defect count")
	cmd.Flags().IntVar(&major, "major", 0, "major defect count")
	cmd.Flags().IntVar(&minor, "minor", 0, "minor defect count")
	cmd.Flags().StringVar(&overrideDecision, "override", "", "override decision (ACCEPT or REJECT)")
	cmd.Flags().StringVar(&overrideReason, "override-reason", "", "override reason")
	return cmd
}

func inspectionApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve submitted inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ins, err := a.Engine.ApproveInspection(context.Background(), args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(ins)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Derived work items",
	}
	task.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List own tasks (reconciles first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.ReconcileTasks(context.Background(), viper.GetString("actor-id"), viper.GetString("actor-role"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due"})
				for _, t := range items {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, due})
				}
				tw.Render()
				return nil
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Own task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				counts, err := a.Engine.Repo.CountTasksByStatus(context.Background(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(counts)
			})
		},
	})
	return task
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	user.AddCommand(userCreateCmd())
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListUsers(context.Background(), "")
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	})
	return user
}

func userCreateCmd() *cobra.Command {
	var email, role, first, last string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := domain.User{
				ID:        uuid.NewString(),
				Email:     email,
				FirstName: first,
				LastName:  last,
				Role:      role,
				CreatedAt: repo.Now(),
			}
			return withApp(func(a *app.App) error {
				if err := a.Engine.Repo.InsertUser(context.Background(), u); err != nil {
					return err
				}
				return printJSONOrIndent(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "inspector", "role (it, manager, inspector)")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListAPIKeys(context.Background(), "")
				if err != nil {
					return err
				}
				for i := range items {
					items[i].KeyHash = ""
				}
				return printJSONOrIndent(items)
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(context.Background(), args[0])
			})
		},
	})
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key (raw key printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				if _, err := a.Engine.Repo.GetUser(context.Background(), userID); err != nil {
					return err
				}
				raw := "ilk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: repo.Now(),
				}
				if err := a.Engine.Repo.InsertAPIKey(context.Background(), key); err != nil {
					return err
				}
				fmt.Println("api key:", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail",
	}
	var limit int
	tail := &cobra.Command{
		Use:   "tail <entity-id>",
		Short: "Show audit events for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				events, err := a.Engine.Repo.ListAuditEvents(context.Background(), args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	tail.Flags().IntVar(&limit, "n", 50, "max events")
	audit.AddCommand(tail)
	return audit
}

func tokenCmd() *cobra.Command {
	var userID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("INSPECTLINE_JWT_SECRET")
			if secret == "" {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				if cfg != nil {
					secret = cfg.Auth.JWTSecret
				}
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required; set auth.jwt_secret or INSPECTLINE_JWT_SECRET")
			}
			claims := jwt.MapClaims{
				"sub":  userID,
				"role": role,
				"exp":  time.Now().Add(ttl).Unix(),
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", "inspector", "role claim (it, manager, inspector)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer log.Sync()
			a, err := app.Open(viper.GetString("workspace"), log)
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
			jwtSecret := a.Config.Auth.JWTSecret
			if env := os.Getenv("INSPECTLINE_JWT_SECRET"); env != "" {
				jwtSecret = env
			}
			if jwtSecret == "" && !allowLegacy {
				return fmt.Errorf("jwt secret required; set auth.jwt_secret or INSPECTLINE_JWT_SECRET, or pass --allow-legacy-actor-header for local use")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              jwtSecret,
					AllowLegacyActorHeader: allowLegacy,
					Logger:                 log,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(a.Engine)
			srv := &http.Server{Addr: addr, Handler: handler}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving inspectline api",
				zap.String("addr", addr),
				zap.String("base_path", basePath))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults from config)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (local dev only)")
	return cmd
}

// --- helpers ---

func withApp(fn func(*app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), zap.NewNop())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
