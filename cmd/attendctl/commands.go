package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/audit"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/config"
	"schoolattendance/internal/logging"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "attendctl",
		Short:         "Operator tools for the attendance service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAuditCmd(), newTokenCmd())
	return root
}

func newAuditCmd() *cobra.Command {
	var (
		date    string
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Flag absences, late arrivals and early departures for one day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			loc := cfg.Location()
			now := time.Now().In(loc)
			day := now
			if date != "" {
				parsed, err := time.ParseInLocation(attendance.DateLayout, date, loc)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				day = parsed
			}
			rep, err := runAudit(cmd.Context(), cfg, day, now, publish)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to audit (YYYY-MM-DD), today when empty")
	cmd.Flags().BoolVar(&publish, "notify", false, "publish notifications for every finding")
	return cmd
}

func runAudit(ctx context.Context, cfg config.App, day, now time.Time, publish bool) (audit.Report, error) {
	logger, err := logging.New(cfg.Production())
	if err != nil {
		return audit.Report{}, err
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return audit.Report{}, err
	}
	defer db.Close()

	var reporter audit.Reporter
	if publish {
		redisClient, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return audit.Report{}, err
		}
		defer redisClient.Close()
		reporter = notify.New(queue.NewRedisQueue(redisClient.Client, cfg.QueueKey), notify.NewRepository(db.Client),
			logger.Named("notify"), notify.Options{IncludeAdmins: cfg.NotifyAdmins})
	}

	auditor := audit.New(attendance.NewRepository(db.Client), reporter, cfg.Location(), logger.Named("audit"))
	rep, err := auditor.Audit(ctx, day, now)
	if err != nil {
		logger.Error("audit failed", zap.Error(err))
	}
	return rep, err
}

func printReport(w io.Writer, rep audit.Report) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Audit %s: %d schedules checked\n", rep.Date, rep.Checked)
	if len(rep.Findings) == 0 {
		color.New(color.FgGreen).Fprintln(w, "no irregularities")
		return
	}
	for _, irr := range rep.Findings {
		c := color.New(color.FgYellow)
		if irr.Status == attendance.Absent {
			c = color.New(color.FgRed)
		}
		scan := "--:--"
		if irr.ScanTime != nil {
			scan = irr.ScanTime.String()
		}
		c.Fprintf(w, "%-12s %-24s %-16s %s-%s scanned %s\n",
			irr.Status, irr.Teacher.Name, irr.Classroom.Name, irr.Schedule.Start, irr.Schedule.End, scan)
	}
	bold.Fprintf(w, "%d irregularities\n", len(rep.Findings))
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != auth.RoleAdmin && role != auth.RoleTerminal {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg := config.Load()
			tok, err := auth.IssueAccess(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user or terminal id)")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "admin or terminal")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
