package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swapline/internal/app"
	"swapline/internal/db"
	"swapline/internal/domain"
	"swapline/internal/engine"
	"swapline/internal/repo"
	"swapline/internal/server"
	"swapline/internal/sweep"
)

var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Swapline CLI",
	Long: `Swapline coordinates peer-to-peer skill swaps.
Core flow:
- Profile: register what you can teach (offered skills) and what you want to learn.
- Request: propose a swap to another user; they accept or decline.
- Session: once accepted, the receiver schedules a session (date + duration).
- Completion: either side completes the session; overdue sessions auto-complete.
- Review: after a completed swap each side rates the other (1-5); the partner's
  average rating is recomputed from the full review set on every change.
- Notifications: every transition notifies the affected user; 'sw notification list' shows them.
- Reminders: a background sweep notifies both sides shortly before a session starts.`,
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
	viper.SetEnvPrefix("SWAPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "local-user", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("as") }

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage user profiles",
		Long:  "Profiles carry the skills a user offers and wants, plus reputation aggregates (average rating, review count, completed swaps).",
	}
	user.AddCommand(userEnsureCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userPartnersCmd())
	return user
}

func userEnsureCmd() *cobra.Command {
	var u domain.User
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create or update a user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.ID == "" {
				u.ID = actorID()
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.EnsureUser(ctx, u); err != nil {
					return err
				}
				stored, err := env.Engine.GetUser(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stored)
			})
		},
	}
	cmd.Flags().StringVar(&u.ID, "id", "", "user id (defaults to --as)")
	cmd.Flags().StringVar(&u.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&u.Role, "role", "", "role")
	cmd.Flags().StringArrayVar(&u.SkillsOffered, "offer", []string{}, "skill offered (repeatable)")
	cmd.Flags().StringArrayVar(&u.SkillsWanted, "want", []string{}, "skill wanted (repeatable)")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				u, err := env.Engine.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userPartnersCmd() *cobra.Command {
	var skill string
	cmd := &cobra.Command{
		Use:   "partners",
		Short: "Find users offering a skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				users, err := env.Engine.FindPartners(ctx, skill, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Offers", "Rating", "Reviews", "Swaps"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.DisplayName, strings.Join(u.SkillsOffered, ", "), fmt.Sprintf("%.1f", u.AverageRating), u.TotalReviews, u.CompletedSwaps})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "", "skill to search for")
	_ = cmd.MarkFlagRequired("skill")
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Manage swap requests",
		Long:  "Requests flow pending -> accepted/declined, then accepted -> scheduled -> completed. Only the receiver accepts or declines; either side completes.",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestRespondCmd())
	req.AddCommand(requestSentCmd())
	req.AddCommand(requestReceivedCmd())
	req.AddCommand(requestListCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var receiver string
	var offered, requested []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Send a swap request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r, err := env.Engine.CreateRequest(ctx, engine.RequestCreateOptions{
					SenderID:        actorID(),
					ReceiverID:      receiver,
					OfferedSkills:   offered,
					RequestedSkills: requested,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&receiver, "to", "", "receiver user id")
	cmd.Flags().StringArrayVar(&offered, "offer", []string{}, "skill offered (repeatable)")
	cmd.Flags().StringArrayVar(&requested, "want", []string{}, "skill requested (repeatable)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func requestRespondCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Accept, decline or complete a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r, err := env.Engine.UpdateRequestStatus(ctx, args[0], actorID(), domain.RequestStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (accepted, declined, completed)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func requestSentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sent",
		Short: "List requests you sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListSentRequests(ctx, actorID())
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	return cmd
}

func requestReceivedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "received",
		Short: "List requests you received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListReceivedRequests(ctx, actorID())
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your requests, optionally by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListRequestsForUser(ctx, actorID(), domain.RequestStatus(status))
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func printRequests(items []domain.Request) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "From", "To", "Offers", "Wants", "Status"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.SenderID, r.ReceiverID, strings.Join(r.OfferedSkills, ", "), strings.Join(r.RequestedSkills, ", "), r.Status})
	}
	tw.Render()
	return nil
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
		Long:  "Sessions pin an accepted request to a date. The receiver schedules; either participant completes. Sessions past their date are auto-completed by the sweep.",
	}
	session.AddCommand(sessionScheduleCmd())
	session.AddCommand(sessionCompleteCmd())
	session.AddCommand(sessionListCmd())
	return session
}

func sessionScheduleCmd() *cobra.Command {
	var requestID, dateStr string
	var duration int
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a session for an accepted request",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := time.Parse(time.RFC3339, dateStr)
			if err != nil {
				return fmt.Errorf("--date must be RFC 3339: %w", err)
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				s, err := env.Engine.ScheduleSession(ctx, engine.SessionScheduleOptions{
					RequestID:       requestID,
					ActorID:         actorID(),
					Date:            date,
					DurationMinutes: duration,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "request id")
	cmd.Flags().StringVar(&dateStr, "date", "", "session date (RFC 3339)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration minutes (config default when omitted)")
	_ = cmd.MarkFlagRequired("request")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func sessionCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				s, err := env.Engine.CompleteSession(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your sessions grouped by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				buckets, err := env.Engine.ListUserSessions(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(buckets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Request", "Date", "Minutes", "Status"})
				for _, group := range [][]domain.SessionView{buckets.Scheduled, buckets.Completed, buckets.Cancelled} {
					for _, s := range group {
						tw.AppendRow(table.Row{s.ID, s.RequestID, s.Date, s.DurationMinutes, s.Status})
					}
				}
				tw.Render()
				fmt.Printf("Total: %d\n", buckets.Total)
				return nil
			})
		},
	}
	return cmd
}

func reviewCmd() *cobra.Command {
	review := &cobra.Command{
		Use:   "review",
		Short: "Manage reviews",
		Long:  "Reviews rate a swap partner 1-5 after the request completes. One review per reviewer, partner and request; the partner's average is always recomputed from the full set.",
	}
	review.AddCommand(reviewAddCmd())
	review.AddCommand(reviewListCmd())
	review.AddCommand(reviewUpdateCmd())
	review.AddCommand(reviewDeleteCmd())
	return review
}

func reviewAddCmd() *cobra.Command {
	var userID, requestID, comment string
	var rating int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Review a swap partner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				rv, err := env.Engine.AddReview(ctx, engine.ReviewCreateOptions{
					ReviewerID:     actorID(),
					ReviewedUserID: userID,
					RequestID:      requestID,
					Rating:         rating,
					Comment:        comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "reviewed user id")
	cmd.Flags().StringVar(&requestID, "request", "", "completed request id")
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("request")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func reviewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's reviews with the fresh aggregate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				summary, err := env.Engine.ListReviewsForUser(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Printf("Average: %.2f over %d reviews\n", summary.AverageRating, summary.TotalReviews)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reviewer", "Rating", "Comment"})
				for _, rv := range summary.Reviews {
					tw.AppendRow(table.Row{rv.ID, rv.ReviewerName, rv.Rating, rv.Comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func reviewUpdateCmd() *cobra.Command {
	var rating int
	var comment string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update your review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.ReviewUpdateOptions
			if cmd.Flags().Changed("rating") {
				opts.Rating = &rating
			}
			if cmd.Flags().Changed("comment") {
				opts.Comment = &comment
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				rv, err := env.Engine.UpdateReview(ctx, args[0], actorID(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rv)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func reviewDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete your review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Engine.DeleteReview(ctx, args[0], actorID())
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notification",
		Short: "Manage notifications",
	}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Notify.ListForUser(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Message", "Read", "At"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.ID, item.Kind, item.Message, item.IsRead, item.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				n, err := env.Notify.MarkRead(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in swapline.yml next to the workspace: session defaults and the reminder sweep schedule. Defaults apply when the file is absent.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return printJSONOrTable(env.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Config.Validate()
			})
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

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail of every transition: requests, sessions, reviews and rating recomputes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				events, err := env.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func sweepCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sweep",
		Short: "Session reminder and auto-completion sweep",
	}
	s.AddCommand(sweepRunCmd())
	return s
}

func sweepRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sweep pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
				sweep.New(env.Engine, logger).RunOnce(ctx)
				return nil
			})
		},
	}
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
		Long:  "API keys authenticate non-interactive clients against the HTTP API (X-Api-Key header). Only the SHA-256 hash is stored.",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = actorID()
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := env.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": raw}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key created (store it now, it is not retrievable):\n  id:  %s\n  key: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id (defaults to --as)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				keys, err := env.Engine.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by owner")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the background sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			env, err := app.Open(viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv("SWAPLINE_JWT_SECRET"),
				AllowUserHeader: allowUserHeader,
				Logger:          logger,
				TokenTTL:        24 * time.Hour,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SWAPLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				Notify:   env.Notify,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			var runner *sweep.Runner
			if !noSweep {
				runner = sweep.NewRunner(sweep.New(env.Engine, logger), logger)
				if err := runner.Start(); err != nil {
					return err
				}
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				if runner != nil {
					<-runner.Stop().Done()
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Swapline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept X-User-Id without a token (dev only)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the background reminder sweep")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
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
