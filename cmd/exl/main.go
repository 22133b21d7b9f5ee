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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"examline/internal/app"
	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/repo"
	"examline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "exl",
	Short: "Examline CLI",
	Long: `Examline runs a contest-exam proof marketplace: organizations post demands,
participants queue up to submit proof documents, and staff review and pay the
winning submission. One submission at a time holds the review slot per
demand; the rest wait in line and are promoted on rejection or expiry.`,
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
	viper.SetEnvPrefix("EXAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-staff", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(demandCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(staffKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create workspace and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config %s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.BuildEngine(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("EXAMLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("EXAMLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:     e,
				BasePath:   basePath,
				Auth:       authCfg,
				UploadsDir: db.UploadsDir(workspace),
			})
			if err != nil {
				return err
			}
			stopSweeper := server.StartSweeper(e)
			defer stopSweeper()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Examline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func demandCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "demand", Short: "Manage demands"}
	cmd.AddCommand(demandCreateCmd())
	cmd.AddCommand(demandListCmd())
	cmd.AddCommand(demandShowCmd())
	cmd.AddCommand(demandUpdateCmd())
	cmd.AddCommand(demandDeleteCmd())
	return cmd
}

func demandCreateCmd() *cobra.Command {
	var title, notice, authority, office, examDate, reward string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(reward)
			if err != nil {
				return fmt.Errorf("--reward must be a decimal amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDemand(ctx, engine.DemandCreateOptions{
					Title:        title,
					NoticeNumber: notice,
					Authority:    authority,
					Office:       office,
					ExamDate:     examDate,
					Reward:       amount,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "demand title")
	cmd.Flags().StringVar(&notice, "notice", "", "notice number")
	cmd.Flags().StringVar(&authority, "authority", "", "organizing authority")
	cmd.Flags().StringVar(&office, "office", "", "office / role")
	cmd.Flags().StringVar(&examDate, "exam-date", "", "exam date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reward, "reward", "", "reward amount")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("notice")
	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("reward")
	return cmd
}

func demandListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List demands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				demands, err := r.ListDemands(ctx, status, limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(demands)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Notice", "Reward", "Status"})
				for _, d := range demands {
					tw.AppendRow(table.Row{d.ID, d.Title, d.NoticeNumber, d.Reward.StringFixed(2), d.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func demandShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <demand-id>",
		Short: "Show a demand with queue counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetDemand(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := r.CountSubmissionsByStatus(ctx, d.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"demand": d, "submission_counts": counts})
			})
		},
	}
	return cmd
}

func demandUpdateCmd() *cobra.Command {
	var title, notice, authority, office, examDate, reward, status string
	cmd := &cobra.Command{
		Use:   "update <demand-id>",
		Short: "Update a demand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.DemandUpdateOptions{
				ID:           args[0],
				Title:        optionalString(title),
				NoticeNumber: optionalString(notice),
				Authority:    optionalString(authority),
				Office:       optionalString(office),
				ExamDate:     optionalString(examDate),
				ActorID:      viper.GetString("actor-id"),
			}
			if reward != "" {
				amount, err := decimal.NewFromString(reward)
				if err != nil {
					return fmt.Errorf("--reward must be a decimal amount: %w", err)
				}
				opts.Reward = &amount
			}
			if status != "" {
				st := domain.DemandStatus(status)
				opts.Status = &st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.UpdateDemand(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "demand title")
	cmd.Flags().StringVar(&notice, "notice", "", "notice number")
	cmd.Flags().StringVar(&authority, "authority", "", "organizing authority")
	cmd.Flags().StringVar(&office, "office", "", "office / role")
	cmd.Flags().StringVar(&examDate, "exam-date", "", "exam date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reward, "reward", "", "reward amount")
	cmd.Flags().StringVar(&status, "status", "", "demand status")
	return cmd
}

func demandDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <demand-id>",
		Short: "Delete a demand and its submissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteDemand(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func submissionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "submission", Short: "Manage submissions"}
	cmd.AddCommand(submissionListCmd())
	cmd.AddCommand(submissionShowCmd())
	cmd.AddCommand(submissionReviewCmd())
	cmd.AddCommand(submissionApproveCmd())
	cmd.AddCommand(submissionRejectCmd())
	cmd.AddCommand(submissionPayCmd())
	return cmd
}

func submissionListCmd() *cobra.Command {
	var demandID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions for a demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			if demandID == "" {
				return fmt.Errorf("--demand required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				subs, err := r.ListSubmissions(ctx, demandID, status, 0, "", 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Handle", "Status", "Deadline"})
				for _, s := range subs {
					deadline := ""
					if s.DeadlineAt != nil {
						deadline = *s.DeadlineAt
					}
					tw.AppendRow(table.Row{s.ID, s.Code, s.Name, s.Handle, s.Status, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&demandID, "demand", "", "demand id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func submissionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Show a submission by code, with queue position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, pos, active, err := e.QueuePosition(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"submission": s, "position": pos, "active": active})
			})
		},
	}
	return cmd
}

func submissionReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Start reviewing a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartReview(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	return cmd
}

func submissionApproveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Approve(ctx, id, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "staff note")
	return cmd
}

func submissionRejectCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a submission (promotes the next in line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Reject(ctx, id, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "rejection reason")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func submissionPayCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "pay <id>",
		Short: "Record payout for an approved submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var paid *decimal.Decimal
			if amount != "" {
				a, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("--amount must be a decimal amount: %w", err)
				}
				paid = &a
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.MarkPaid(ctx, id, paid, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "paid amount (defaults to demand reward)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue notified submissions and promote successors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepExpired(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]int{"expired": n})
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var demandID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, demandID, n)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&demandID, "demand", "", "demand id filter")
	return cmd
}

func staffKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "staffkey", Short: "Manage staff API keys"}
	cmd.AddCommand(staffKeyCreateCmd())
	cmd.AddCommand(staffKeyListCmd())
	cmd.AddCommand(staffKeyDeleteCmd())
	return cmd
}

func staffKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a staff API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.StaffKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashStaffKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertStaffKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func staffKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List staff keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListStaffKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id filter")
	return cmd
}

func staffKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a staff key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteStaffKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a staff bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("EXAMLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("EXAMLINE_JWT_SECRET is required")
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			now := time.Now()
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			signed, err := token.SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.BuildEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	e, conn, err := app.BuildEngine(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e.Repo)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid submission id %q", s)
	}
	return id, nil
}
