package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/keepsake/internal/app"
	"github.com/user/keepsake/internal/scheduler"
	"github.com/user/keepsake/internal/types"
)

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronShowCmd, cronDeleteCmd, cronRunCmd,
		cronAction("pause", "Pause a cron job", (*scheduler.Coordinator).Pause),
		cronAction("resume", "Resume a paused cron job", (*scheduler.Coordinator).Resume),
		cronAction("clone", "Copy a cron job", (*scheduler.Coordinator).Clone),
	)

	cronListCmd.Flags().String("status", "", "only jobs with this status (active, paused)")

	cronAddCmd.Flags().String("name", "", "job name (required)")
	cronAddCmd.Flags().String("instructions", "", "what the agent should do (required)")
	cronAddCmd.Flags().String("description", "", "optional description")
	cronAddCmd.Flags().IntSlice("days", nil, "weekdays for recurring jobs, 0=Mon .. 6=Sun")
	cronAddCmd.Flags().String("time", "", "time of day, e.g. 7:00 PM or 19:00 (required)")
	cronAddCmd.Flags().String("date", "", "run date for one-time jobs (YYYY-MM-DD)")
	cronAddCmd.Flags().String("timezone", "", "IANA timezone (default: agent timezone)")
	_ = cronAddCmd.MarkFlagRequired("name")
	_ = cronAddCmd.MarkFlagRequired("instructions")
	_ = cronAddCmd.MarkFlagRequired("time")
}

func parseJobID(s string) (types.JobID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid job id %q", types.ErrValidation, s)
	}
	return types.JobID(id), nil
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cron jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			jobs, err := a.Coordinator.List(ctx, types.JobStatus(status))
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("No cron jobs configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSCHEDULE\tNEXT RUN\tLAST RUN")
			for _, j := range jobs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Name, j.Status, describeSchedule(j), nextRun(j), lastRun(j, a.Location))
			}
			return w.Flush()
		})
	},
}

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a cron job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		job := &types.CronJob{CreatedBy: types.ActorUser}
		job.Name, _ = flags.GetString("name")
		job.Instructions, _ = flags.GetString("instructions")
		job.Description, _ = flags.GetString("description")
		job.ScheduleDays, _ = flags.GetIntSlice("days")
		job.ScheduleTime, _ = flags.GetString("time")
		job.RunDate, _ = flags.GetString("date")
		job.Timezone, _ = flags.GetString("timezone")
		job.IsOneTime = job.RunDate != ""

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			created, err := a.Coordinator.Create(ctx, job)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Created cron job %q (id=%d): %s.\n", created.Name, created.ID, describeSchedule(created))
			return nil
		})
	},
}

var cronShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cron job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			j, err := a.Coordinator.Get(ctx, id)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%d\n", j.ID)
			fmt.Fprintf(w, "Name\t%s\n", j.Name)
			if j.Description != "" {
				fmt.Fprintf(w, "Description\t%s\n", j.Description)
			}
			fmt.Fprintf(w, "Status\t%s\n", j.Status)
			fmt.Fprintf(w, "Schedule\t%s\n", describeSchedule(j))
			fmt.Fprintf(w, "Timezone\t%s\n", scheduler.TimezoneDisplay(j.Timezone))
			fmt.Fprintf(w, "Next run\t%s\n", nextRun(j))
			fmt.Fprintf(w, "Last run\t%s\n", lastRun(j, a.Location))
			fmt.Fprintf(w, "Runs\t%d\n", j.RunCount)
			fmt.Fprintf(w, "Created by\t%s\n", j.CreatedBy)
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\n%s\n", j.Instructions)
			return nil
		})
	},
}

// cronAction builds a subcommand that applies one lifecycle transition.
func cronAction(use, short string, fn func(*scheduler.Coordinator, context.Context, types.JobID) (*types.CronJob, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				j, err := fn(a.Coordinator, ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "%s: cron job %q (id=%d) is %s.\n", use, j.Name, j.ID, j.Status)
				return nil
			})
		},
	}
}

var cronDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a cron job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Coordinator.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Deleted cron job %d.\n", id)
			return nil
		})
	},
}

var cronRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a cron job now, regardless of its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Start(ctx)
			enableDelivery(a)
			j, err := a.Coordinator.RunNow(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Ran cron job %q: %s", j.Name, j.LastRunStatus)
			if j.LastRunError != "" {
				fmt.Fprintf(os.Stdout, " (%s)", j.LastRunError)
			}
			fmt.Fprintln(os.Stdout)
			return nil
		})
	},
}

func describeSchedule(j *types.CronJob) string {
	if j.IsOneTime {
		return fmt.Sprintf("once on %s at %s", j.RunDate, j.ScheduleTime)
	}
	return fmt.Sprintf("%s at %s", scheduler.FormatDays(j.ScheduleDays), j.ScheduleTime)
}

func nextRun(j *types.CronJob) string {
	next, ok, err := scheduler.NextRun(j, time.Now())
	if err != nil || !ok {
		return "-"
	}
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return next.In(loc).Format("2006-01-02 15:04 MST")
}

func lastRun(j *types.CronJob, loc *time.Location) string {
	if j.LastRunAt == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", j.LastRunAt.In(loc).Format("2006-01-02 15:04"), j.LastRunStatus)
}
