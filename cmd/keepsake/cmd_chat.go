package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/keepsake/internal/app"
	"github.com/user/keepsake/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd, heartbeatCmd, messagesCmd)

	chatCmd.Flags().String("thread", string(types.PrimaryThread), "conversation thread")
	chatCmd.Flags().String("name", "", "display name for your messages")
	messagesCmd.Flags().String("thread", string(types.PrimaryThread), "conversation thread")
	messagesCmd.Flags().Int("limit", 50, "number of messages to show")
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the agent from the terminal",
	Long:  "Sends one message when given as an argument, otherwise reads messages from stdin until EOF.",
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetString("thread")
		name, _ := cmd.Flags().GetString("name")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Start(ctx)
			send := func(text string) error {
				res, err := a.Gateway.Handle(ctx, &types.Turn{
					Thread:      types.ThreadID(thread),
					Text:        text,
					DisplayName: name,
					Channel:     types.ChannelLocal,
					UserID:      types.NewUserID(types.ChannelLocal, "cli"),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, res.Response)
				return nil
			}

			if len(args) > 0 {
				return send(strings.Join(args, " "))
			}
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			fmt.Fprint(os.Stdout, "> ")
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					fmt.Fprint(os.Stdout, "> ")
					continue
				}
				if text == "/quit" || text == "/exit" {
					return nil
				}
				if err := send(text); err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
				fmt.Fprint(os.Stdout, "> ")
			}
			return scanner.Err()
		})
	},
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run one heartbeat cycle now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Start(ctx)
			enableDelivery(a)
			out, err := a.Heartbeat.Run(ctx)
			if err != nil {
				return err
			}
			switch {
			case out.Skipped:
				fmt.Fprintf(os.Stdout, "Heartbeat skipped (%s).\n", out.Reason)
			case out.Delivered:
				fmt.Fprintf(os.Stdout, "Heartbeat delivered:\n%s\n", out.Response)
			default:
				fmt.Fprintf(os.Stdout, "Heartbeat completed: %s\n", out.Response)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Print the most recent messages of a thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetString("thread")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			msgs, err := a.DB.RecentMessages(ctx, types.ThreadID(thread), limit)
			if err != nil {
				return fmt.Errorf("read messages: %w", err)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(os.Stdout, "No messages yet.")
				return nil
			}
			for _, m := range msgs {
				who := string(m.Role)
				if name, ok := m.Metadata[types.MetaRoleDisplay].(string); ok && name != "" {
					who = name
				}
				fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", m.CreatedAt.In(a.Location).Format("2006-01-02 15:04"), who, m.Content)
			}
			return nil
		})
	},
}
