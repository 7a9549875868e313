package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/keepsake/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Keepsake Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
		cfg.LLM.Model = prompt(scanner, "LLM model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(prompt(scanner, "Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}
		cfg.Agent.Timezone = prompt(scanner, "Your timezone", cfg.Agent.Timezone)
		cfg.Database.Driver = prompt(scanner, "Database driver (sqlite or postgres)", cfg.Database.Driver)
		cfg.Database.DSN = prompt(scanner, "Database DSN", cfg.Database.DSN)
		cfg.Hindsight.BaseURL = prompt(scanner, "Hindsight base URL (optional)", cfg.Hindsight.BaseURL)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Heartbeat.DeliverTo = prompt(scanner, "Deliver heartbeat and cron messages to (e.g. telegram:<chat id>)", cfg.Heartbeat.DeliverTo)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
