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

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/app"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/autonomy"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/customer"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/db"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/goals"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/llm"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/migrate"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/repo"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/scheduler"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "agov",
	Short: "Governor CLI",
	Long: `Governor supervises what an autonomous sales agent is allowed to do.
Core concepts:
- Workspace: your .governor directory holding only the database; tenant configs live in the DB and are imported explicitly.
- Tenant: one isolated customer workspace that owns all clones, goals, actions, and insights.
- Guardrails: three tiers per action type. Autonomous actions run unsupervised, approval-required actions wait for a human, hard stops never run.
- Goals: measurable targets (pipeline, activity, quality, revenue) with pacing reports and corrective suggestions.
- Patterns: detectors scan customer history for buying signals, risk indicators, and engagement changes.
- Insights: deduplicated detector findings with severity, alerting, daily digests, and human feedback.
- Approvals: the human sign-off queue; an action executes only after explicit approval.
- Event log: the audit diary of everything the system decided, view with 'agov log tail'.`,
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
	viper.SetEnvPrefix("GOVERNOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides the single-tenant default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cloneCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(insightCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(patternCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantListCmd())
	tenant.AddCommand(tenantCreateCmd())
	tenant.AddCommand(tenantShowCmd())
	tenant.AddCommand(tenantConfigCmd())
	return tenant
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant with a default guardrail config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			ctx := cmd.Context()
			if _, gerr := r.GetTenant(ctx, id); gerr == nil {
				return fmt.Errorf("tenant %s already exists", id)
			} else if !errors.Is(gerr, repo.ErrNotFound) {
				return gerr
			}
			if name == "" {
				name = id
			}
			t := domain.Tenant{ID: id, Name: name, Status: "active", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
			if err := r.InsertTenant(ctx, t); err != nil {
				return err
			}
			if err := r.UpsertTenantConfig(ctx, id, config.Default(id)); err != nil {
				return err
			}
			return printJSONOrTable(t)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				t, err := e.Repo.GetTenant(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func tenantConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage tenant config"}
	cfgCmd.AddCommand(tenantConfigShowCmd())
	cfgCmd.AddCommand(tenantConfigImportCmd())
	cfgCmd.AddCommand(tenantConfigGenerateCmd())
	return cfgCmd
}

func tenantConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show tenant config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
	return cmd
}

func tenantConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import tenant config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			tenantID := cfg.Tenant.ID
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if tenantID == "" {
					resolved, _, rerr := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
					if rerr != nil {
						return rerr
					}
					tenantID = resolved
					cfg.Tenant.ID = tenantID
				}
				if err := r.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tenantConfigGenerateCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print the default config YAML for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = "default"
			}
			fmt.Print(config.GenerateDefault(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tenant status",
		Long:  "See the scoreboard for your tenant: active goals, pending approvals, pending insights, and tracked accounts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, customers *customer.Service) error {
				tenantID := cfg.Tenant.ID
				t, err := e.Repo.GetTenant(ctx, tenantID)
				if err != nil {
					return err
				}
				active, err := e.Goals.ActiveGoals(ctx, tenantID, "")
				if err != nil {
					return err
				}
				pending, err := e.PendingApprovals(ctx, tenantID)
				if err != nil {
					return err
				}
				insights, err := e.Repo.ListInsights(ctx, tenantID, repo.ListInsightsOptions{Status: "pending"})
				if err != nil {
					return err
				}
				accounts, err := customers.Accounts(ctx, tenantID)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(e.DB)
				if err != nil {
					return err
				}
				out := map[string]any{
					"tenant_id":         t.ID,
					"status":            t.Status,
					"schema_version":    schema,
					"active_goals":      len(active),
					"pending_approvals": len(pending),
					"pending_insights":  len(insights),
					"accounts":          len(accounts),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Tenant: %s (%s)\n", t.ID, t.Status)
				fmt.Printf("Schema version: %d\n", schema)
				fmt.Printf("Active goals: %d\n", len(active))
				fmt.Printf("Pending approvals: %d\n", len(pending))
				fmt.Printf("Pending insights: %d\n", len(insights))
				fmt.Printf("Accounts: %d\n", len(accounts))
				return nil
			})
		},
	}
	return cmd
}

func cloneCmd() *cobra.Command {
	clone := &cobra.Command{Use: "clone", Short: "Manage agent clones"}
	clone.AddCommand(cloneCreateCmd())
	clone.AddCommand(cloneListCmd())
	clone.AddCommand(cloneDeleteCmd())
	return clone
}

func cloneCreateCmd() *cobra.Command {
	var id, name, persona string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clone",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				c := domain.Clone{
					ID:        id,
					TenantID:  cfg.Tenant.ID,
					Name:      name,
					Persona:   persona,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if c.ID == "" {
					c.ID = uuid.New().String()
				}
				if err := e.Repo.InsertClone(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "clone id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "clone name")
	cmd.Flags().StringVar(&persona, "persona", "", "persona description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func cloneListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				clones, err := e.Repo.ListClones(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(clones)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Persona"})
				for _, c := range clones {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Persona})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func cloneDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a clone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				return e.Repo.DeleteClone(ctx, cfg.Tenant.ID, args[0])
			})
		},
	}
	return cmd
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
		Long:  "Goals are measurable targets for a tenant or one clone. They track current vs target value over a period and report pacing (on_track, at_risk, behind).",
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalProgressCmd())
	goal.AddCommand(goalStatusCmd())
	goal.AddCommand(goalSuggestCmd())
	goal.AddCommand(goalMetricsCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var goalType, cloneID, periodStart, periodEnd string
	var target float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, periodStart)
			if err != nil {
				return fmt.Errorf("invalid --period-start: %w", err)
			}
			end, err := time.Parse(time.RFC3339, periodEnd)
			if err != nil {
				return fmt.Errorf("invalid --period-end: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				g, err := e.Goals.CreateGoal(ctx, goals.GoalCreateOptions{
					TenantID:    cfg.Tenant.ID,
					CloneID:     cloneID,
					Type:        domain.GoalType(goalType),
					TargetValue: target,
					PeriodStart: start,
					PeriodEnd:   end,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&goalType, "type", "", "goal type (pipeline, activity, quality, revenue)")
	cmd.Flags().StringVar(&cloneID, "clone", "", "clone id (optional, tenant-wide if omitted)")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().StringVar(&periodStart, "period-start", "", "period start (RFC3339)")
	cmd.Flags().StringVar(&periodEnd, "period-end", "", "period end (RFC3339)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("period-start")
	_ = cmd.MarkFlagRequired("period-end")
	return cmd
}

func goalListCmd() *cobra.Command {
	var status, goalType, cloneID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				items, err := e.Repo.ListGoals(ctx, cfg.Tenant.ID, repo.ListGoalsOptions{
					Status:  status,
					CloneID: cloneID,
					Type:    domain.GoalType(goalType),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Target", "Current", "Status", "Period End"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.GoalType, g.TargetValue, g.CurrentValue, g.Status, g.PeriodEnd})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, completed, missed)")
	cmd.Flags().StringVar(&goalType, "type", "", "type filter")
	cmd.Flags().StringVar(&cloneID, "clone", "", "clone filter")
	return cmd
}

func goalProgressCmd() *cobra.Command {
	var value float64
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Update goal progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				g, err := e.Goals.UpdateProgress(ctx, cfg.Tenant.ID, args[0], value)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "new current value")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func goalStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Pacing report for active goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				statuses, err := e.Goals.CheckGoalStatus(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(statuses)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Progress", "On Track", "Days Left"})
				for _, st := range statuses {
					tw.AppendRow(table.Row{
						st.Goal.ID, st.Goal.GoalType,
						fmt.Sprintf("%.0f%%", st.ProgressPct),
						st.OnTrack,
						st.DaysRemaining,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func goalSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <id>",
		Short: "Corrective suggestions for a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				g, err := e.Repo.GetGoal(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				suggestions := e.Goals.SuggestActions(ctx, cfg.Tenant.ID, g)
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				if len(suggestions) == 0 {
					fmt.Println("No suggestions: the goal is pacing fine.")
					return nil
				}
				for _, s := range suggestions {
					fmt.Println("-", s)
				}
				return nil
			})
		},
	}
	return cmd
}

func goalMetricsCmd() *cobra.Command {
	var cloneID string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Performance metrics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				m := e.Goals.ComputeMetrics(ctx, cfg.Tenant.ID, cloneID)
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&cloneID, "clone", "", "clone id (optional)")
	return cmd
}

func actionCmd() *cobra.Command {
	action := &cobra.Command{
		Use:   "action",
		Short: "Propose and execute autonomous actions",
		Long:  "Every proposed action passes the guardrail check first. Autonomous actions are approved immediately, approval-required actions queue for a human, hard stops are blocked outright. Everything is audited.",
	}
	action.AddCommand(actionProposeCmd())
	action.AddCommand(actionListCmd())
	action.AddCommand(actionGetCmd())
	action.AddCommand(actionExecuteCmd())
	return action
}

func actionProposeCmd() *cobra.Command {
	var actionType, accountID, dealStage, rationale string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				action := domain.AutonomyAction{
					ID:         uuid.New().String(),
					TenantID:   cfg.Tenant.ID,
					ActionType: actionType,
					AccountID:  accountID,
					DealStage:  dealStage,
					Rationale:  rationale,
				}
				verdict, err := e.ProposeAction(ctx, cfg.Tenant.ID, action)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"action_id": action.ID,
					"verdict":   verdict,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "action type")
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&dealStage, "stage", "", "deal stage")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why the agent wants to act")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func actionListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				items, err := e.Repo.ListActions(ctx, cfg.Tenant.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Account", "Reason", "Approval", "Executed"})
				for _, rec := range items {
					executed := ""
					if rec.ExecutedAt != nil {
						executed = *rec.ExecutedAt
					}
					tw.AppendRow(table.Row{rec.ID, rec.ActionType, rec.AccountID, rec.Reason, rec.ApprovalStatus, executed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}

func actionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an action audit record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				rec, err := e.Repo.GetAction(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func actionExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Execute an approved action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				rec, err := e.ExecuteApprovedAction(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func approvalCmd() *cobra.Command {
	approval := &cobra.Command{Use: "approval", Short: "Manage the human approval queue"}
	approval.AddCommand(approvalListCmd())
	approval.AddCommand(approvalResolveCmd())
	return approval
}

func approvalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				items, err := e.PendingApprovals(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action", "Type", "Account", "Rationale", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActionID, a.ActionType, a.AccountID, a.Rationale, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func approvalResolveCmd() *cobra.Command {
	var approve, reject bool
	cmd := &cobra.Command{
		Use:   "resolve <action-id>",
		Short: "Approve or reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				ok, err := e.ResolveApproval(ctx, cfg.Tenant.ID, args[0], approve, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no pending approval for action %s", args[0])
				}
				resolved, err := e.Repo.GetApproval(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(resolved)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the action")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the action")
	return cmd
}

func insightCmd() *cobra.Command {
	insight := &cobra.Command{
		Use:   "insight",
		Short: "Review detector insights",
		Long:  "Insights are deduplicated pattern matches with severity. Act on them, dismiss them, or tell the system whether they were useful so accuracy can be tracked.",
	}
	insight.AddCommand(insightListCmd())
	insight.AddCommand(insightFeedbackCmd())
	insight.AddCommand(insightStatusCmd())
	insight.AddCommand(insightDigestCmd())
	insight.AddCommand(insightAccuracyCmd())
	return insight
}

func insightListCmd() *cobra.Command {
	var status, accountID, patternType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				items, err := e.Repo.ListInsights(ctx, cfg.Tenant.ID, repo.ListInsightsOptions{
					Status:      status,
					AccountID:   accountID,
					PatternType: domain.PatternType(patternType),
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Account", "Pattern", "Severity", "Confidence", "Status"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.ID, in.AccountID, in.PatternType, in.Severity, fmt.Sprintf("%.2f", in.Confidence), in.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, acted, dismissed)")
	cmd.Flags().StringVar(&accountID, "account", "", "account filter")
	cmd.Flags().StringVar(&patternType, "pattern", "", "pattern type filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}

func insightFeedbackCmd() *cobra.Command {
	var verdict, comment string
	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Record feedback on an insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verdict != "useful" && verdict != "false_alarm" {
				return fmt.Errorf("--verdict must be useful or false_alarm")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				if _, err := e.Repo.GetInsight(ctx, cfg.Tenant.ID, args[0]); err != nil {
					return err
				}
				if !e.Insights.ProcessFeedback(ctx, cfg.Tenant.ID, args[0], verdict, comment) {
					return fmt.Errorf("feedback not recorded")
				}
				fmt.Println("Feedback recorded.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "useful or false_alarm")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func insightStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Mark an insight acted or dismissed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "acted" && status != "dismissed" {
				return fmt.Errorf("--set must be acted or dismissed")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				actedAt := ""
				if status == "acted" {
					actedAt = time.Now().UTC().Format(time.RFC3339)
				}
				if err := e.Repo.UpdateInsightStatus(ctx, cfg.Tenant.ID, args[0], status, actedAt); err != nil {
					return err
				}
				in, err := e.Repo.GetInsight(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&status, "set", "", "acted or dismissed")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func insightDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Daily digest of pending insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				digest, err := e.Insights.GenerateDailyDigest(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(digest)
			})
		},
	}
	return cmd
}

func insightAccuracyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Feedback accuracy summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				summary, err := e.Insights.FeedbackSummary(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func accountCmd() *cobra.Command {
	account := &cobra.Command{Use: "account", Short: "Customer accounts and interactions"}
	account.AddCommand(accountListCmd())
	account.AddCommand(accountViewCmd())
	account.AddCommand(accountSummaryCmd())
	account.AddCommand(accountScanCmd())
	account.AddCommand(accountRecordCmd())
	return account
}

func accountListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with recorded history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *autonomy.Engine, cfg *config.Config, customers *customer.Service) error {
				accounts, err := customers.Accounts(ctx, cfg.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(accounts)
				}
				for _, a := range accounts {
					fmt.Println(a)
				}
				return nil
			})
		},
	}
	return cmd
}

func accountViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <account-id>",
		Short: "Unified account view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *autonomy.Engine, cfg *config.Config, customers *customer.Service) error {
				view, err := customers.UnifiedView(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	return cmd
}

func accountSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <account-id>",
		Short: "Rolled-up account summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				summary, err := e.Repo.GetAccountSummary(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func accountScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <account-id>",
		Short: "Run pattern detection for one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, customers *customer.Service) error {
				view, err := customers.UnifiedView(ctx, cfg.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				matches := e.Patterns.DetectPatterns(ctx, view)
				created, err := e.Insights.ProcessBatch(ctx, cfg.Tenant.ID, matches)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"account_id": args[0],
					"matches":    len(matches),
					"insights":   created,
				})
			})
		},
	}
	return cmd
}

func accountRecordCmd() *cobra.Command {
	var accountID, channel, summary, sentiment string
	var participants, keyPoints []string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a customer interaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, _ *autonomy.Engine, cfg *config.Config, customers *customer.Service) error {
				stored, err := customers.RecordInteraction(ctx, domain.Interaction{
					TenantID:       cfg.Tenant.ID,
					AccountID:      accountID,
					Channel:        channel,
					Participants:   participants,
					ContentSummary: summary,
					Sentiment:      sentiment,
					KeyPoints:      keyPoints,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&channel, "channel", "", "channel (email, call, chat, meeting)")
	cmd.Flags().StringVar(&summary, "summary", "", "content summary")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "sentiment (positive, neutral, negative)")
	cmd.Flags().StringArrayVar(&participants, "participant", []string{}, "participant (repeatable)")
	cmd.Flags().StringArrayVar(&keyPoints, "key-point", []string{}, "key point (repeatable)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func patternCmd() *cobra.Command {
	pat := &cobra.Command{Use: "pattern", Short: "Pattern engine tuning"}
	pat.AddCommand(patternThresholdCmd())
	return pat
}

func patternThresholdCmd() *cobra.Command {
	var set float64
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Show or tune the confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				if cmd.Flags().Changed("set") {
					applied := e.Patterns.UpdateConfidenceThreshold(set)
					return printJSONOrTable(map[string]any{"confidence_threshold": applied})
				}
				return printJSONOrTable(map[string]any{"confidence_threshold": e.Patterns.ConfidenceThreshold()})
			})
		},
	}
	cmd.Flags().Float64Var(&set, "set", 0, "new threshold (clamped to the valid range)")
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *autonomy.Engine, cfg *config.Config, _ *customer.Service) error {
				events, err := e.Repo.TailEvents(ctx, cfg.Tenant.ID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown exactly once; only the hash is stored.
				return printJSONOrTable(map[string]any{"id": key.ID, "api_key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
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

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server with background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			tenantID, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), viper.GetString("tenant"), r)
			if err != nil {
				return err
			}
			e := autonomy.New(conn, cfg)
			customers := customer.NewService(r)
			if apiKey := os.Getenv("GOVERNOR_GENAI_API_KEY"); apiKey != "" {
				model := os.Getenv("GOVERNOR_GENAI_MODEL")
				if model == "" {
					model = cfg.Patterns.Enhancement.Model
				}
				completer, lerr := llm.NewGenAICompleter(cmd.Context(), apiKey, model)
				if lerr != nil {
					return lerr
				}
				if cfg.Patterns.Enhancement.Enabled {
					e.SetCompleter(completer)
				}
				customers.LLM = completer
			}
			if pub := server.NewWebhookPublisher(tenantID, cfg.Alerts.Webhooks); pub != nil {
				e.Insights.Alerts = pub
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GOVERNOR_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				fmt.Println("warning: GOVERNOR_JWT_SECRET not set, serving without authentication")
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				Customers: customers,
				Cfg:       cfg,
				BasePath:  basePath,
				Auth:      authCfg,
			})
			if err != nil {
				return err
			}
			if !noScheduler {
				go scheduler.New(e, customers, tenantID, cfg.Scheduler).Run(cmd.Context())
			}
			server.StartWebhookDispatcher(cmd.Context(), e, cfg)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Governor API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable the background loops")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *autonomy.Engine, *config.Config, *customer.Service) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
	if err != nil {
		return err
	}
	return fn(ctx, autonomy.New(conn, cfg), cfg, customer.NewService(r))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
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
