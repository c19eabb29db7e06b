package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/repository"
	"github.com/schoolist/edgeservice/internal/services/identity"
)

var (
	sessionsSubject string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and revoke browser sessions",
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired, idle and revoked sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				return fmt.Errorf("failed to purge sessions: %w", err)
			}
			logger.Info("purged sessions", zap.Int64("count", n))
			return nil
		})
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke every session of a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
			n, err := svc.RevokeSubject(ctx, sessionsSubject)
			if err != nil {
				return fmt.Errorf("failed to revoke sessions: %w", err)
			}
			fmt.Printf("Revoked %d session(s) of %s\n", n, sessionsSubject)
			return nil
		})
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, optionally for one subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
			sessions, err := svc.ListSessions(ctx, sessionsSubject)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tCREATED_AT\tLAST_USED_AT\tEXPIRES_AT\tREVOKED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					s.ID,
					s.Subject,
					s.CreatedAt.Format(time.RFC3339),
					s.LastUsedAt.Format(time.RFC3339),
					s.ExpiresAt.Format(time.RFC3339),
					s.Revoked,
				)
			}
			return w.Flush()
		})
	},
}

// withIdentity runs fn against an identity service without a session cache;
// CLI invocations are one-shot.
func withIdentity(ctx context.Context, fn func(ctx context.Context, svc *identity.Service) error) error {
	return withDB(ctx, func(ctx context.Context, db *bun.DB) error {
		svc := identity.NewService(
			repository.NewBunSessionRepository(db),
			identity.Config{
				SessionDuration: cfg.Session.Duration,
				IdleTimeout:     cfg.Session.IdleTimeout,
			},
			logger,
			nil,
		)
		return fn(ctx, svc)
	})
}

func init() {
	sessionsRevokeCmd.Flags().StringVar(&sessionsSubject, "subject", "", "Subject (sub claim) whose sessions are revoked")
	_ = sessionsRevokeCmd.MarkFlagRequired("subject")
	sessionsListCmd.Flags().StringVar(&sessionsSubject, "subject", "", "Only list sessions of this subject")

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	sessionsCmd.AddCommand(sessionsRevokeCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
}
