package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/keepsake/internal/app"
	"github.com/user/keepsake/internal/types"
)

func init() {
	rootCmd.AddCommand(memoryCmd, summaryCmd, factsCmd)
	memoryCmd.AddCommand(memoryShowCmd, memorySetCmd, memoryRollbackCmd)
	summaryCmd.AddCommand(summaryWriteCmd, summaryListCmd)
	factsCmd.AddCommand(factsAddCmd, factsSearchCmd)

	memoryShowCmd.Flags().Int("history", 0, "also show this many previous versions")
	memorySetCmd.Flags().String("file", "", "read the new content from a file")
	summaryWriteCmd.Flags().String("date", "", "summary date (YYYY-MM-DD, default today)")
	summaryListCmd.Flags().Int("days", 7, "number of days to show")
	factsAddCmd.Flags().String("category", "", "fact category")
	factsSearchCmd.Flags().String("category", "", "restrict to a category")
	factsSearchCmd.Flags().Int("limit", 10, "maximum number of facts")
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit core memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show [block]",
	Short: "Show core memory blocks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var blocks []*types.CoreMemoryBlock
			if len(args) == 1 {
				b, err := a.Memory.Read(ctx, types.BlockType(args[0]))
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
			} else {
				var err error
				if blocks, err = a.Memory.List(ctx); err != nil {
					return err
				}
			}
			for _, b := range blocks {
				fmt.Fprintf(os.Stdout, "== %s (version %d) ==\n%s\n\n", b.Type.Label(), b.Version, b.Content)
				if history <= 0 {
					continue
				}
				entries, err := a.Memory.History(ctx, b.Type, history)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(os.Stdout, "-- version %d, %s --\n%s\n\n", e.Version,
						e.UpdatedAt.In(a.Location).Format("2006-01-02 15:04"), e.Content)
				}
			}
			return nil
		})
	},
}

var memorySetCmd = &cobra.Command{
	Use:   "set <block> [content]",
	Short: "Replace a core memory block",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		var content string
		switch {
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			content = string(data)
		case len(args) == 2:
			content = args[1]
		default:
			return fmt.Errorf("%w: give the content as an argument or with --file", types.ErrValidation)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			b, err := a.Memory.Update(ctx, types.BlockType(args[0]), content, types.ActorUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Replaced %s (version %d).\n", b.Type, b.Version)
			return nil
		})
	},
}

var memoryRollbackCmd = &cobra.Command{
	Use:   "rollback <block>",
	Short: "Restore the previous version of a core memory block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			b, err := a.Memory.Rollback(ctx, types.BlockType(args[0]), types.ActorUser)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Rolled %s back to version %d.\n", b.Type, b.Version)
			return nil
		})
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Manage daily summaries",
}

var summaryWriteCmd = &cobra.Command{
	Use:   "write <content>",
	Short: "Write (or replace) a daily summary",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if date == "" {
				date = a.Summaries.Today()
			}
			s, err := a.Summaries.Write(ctx, date, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Daily summary saved for %s.\n", s.Date)
			return nil
		})
	},
}

var summaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent daily summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			list, err := a.Summaries.Trailing(ctx, days, time.Now())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(os.Stdout, "No summaries in that window.")
				return nil
			}
			for _, s := range list {
				fmt.Fprintf(os.Stdout, "== %s ==\n%s\n\n", s.Date, s.Content)
			}
			return nil
		})
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage archival facts",
}

var factsAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a fact in archival memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			f, err := a.Archival.Store(ctx, strings.Join(args, " "), category)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Stored fact %d.\n", f.ID)
			return nil
		})
	},
}

var factsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search archival memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			facts, err := a.Archival.Query(ctx, strings.Join(args, " "), category, limit)
			if err != nil {
				return err
			}
			if len(facts) == 0 {
				fmt.Fprintln(os.Stdout, "No matching facts.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tCREATED\tCONTENT")
			for _, f := range facts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.ID, f.Category,
					f.CreatedAt.In(a.Location).Format("2006-01-02 15:04"), f.Content)
			}
			return w.Flush()
		})
	},
}
