package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkalen/rapport/internal/api"
	"github.com/mkalen/rapport/internal/config"
	"github.com/mkalen/rapport/internal/journey"
	"github.com/mkalen/rapport/internal/storage"
)

// journeyView mirrors the server's journey wire shape.
type journeyView struct {
	ID         string    `json:"id"`
	CurrentDay int       `json:"currentDay"`
	StartedAt  time.Time `json:"startedAt"`
}

// fetchJourney returns the active journey, or nil if none is started.
func fetchJourney(ctx context.Context, client *apiClient) (*journeyView, error) {
	resp, err := client.get(ctx, "/journey")
	if err != nil {
		return nil, err
	}
	var j *journeyView
	if err := decodeJSON(resp, &j); err != nil {
		return nil, err
	}
	return j, nil
}

// --- journey ---

var journeyCmd = &cobra.Command{
	Use:   "journey",
	Short: "Inspect or control the active journey",
}

var journeyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active journey and completed days",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		j, err := fetchJourney(cmd.Context(), client)
		if err != nil {
			return err
		}
		if j == nil {
			fmt.Println("No journey started.")
			return nil
		}

		resp, err := client.get(cmd.Context(), "/journey/completed-days")
		if err != nil {
			return err
		}
		var days []int
		if err := decodeJSON(resp, &days); err != nil {
			return err
		}

		printStatus("Journey", "%s", j.ID)
		printStatus("Current day", "%d of %d", j.CurrentDay, storage.MaxDay)
		printStatus("Started", "%s", j.StartedAt.Format("2006-01-02"))
		printStatus("Completed days", "%d", len(days))
		return nil
	},
}

var journeyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new journey (archives the current one)",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetInt("day")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/journey", map[string]int{"startDay": day})
		if err != nil {
			return err
		}
		var j journeyView
		if err := decodeJSON(resp, &j); err != nil {
			return err
		}

		printSuccess("Started journey at day %d", j.CurrentDay)
		return nil
	},
}

var journeyRapportCmd = &cobra.Command{
	Use:   "rapport",
	Short: "Print the cumulative rapport document",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/journey/rapport")
		if err != nil {
			return err
		}
		var rap map[string]string
		if err := decodeJSON(resp, &rap); err != nil {
			return err
		}

		if rap["content"] == "" {
			fmt.Println("No insights recorded yet.")
			return nil
		}
		fmt.Println(rap["content"])
		return nil
	},
}

var journeyDayCmd = &cobra.Command{
	Use:   "day <number>",
	Short: "Show one day's transcript and summary as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/journey/days/"+args[0])
		if err != nil {
			return err
		}
		var rec *journey.Reflection
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("No transcript saved for that day.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	journeyStartCmd.Flags().Int("day", 1, "day to start the journey at (1-30)")
	journeyCmd.AddCommand(journeyStatusCmd)
	journeyCmd.AddCommand(journeyStartCmd)
	journeyCmd.AddCommand(journeyRapportCmd)
	journeyCmd.AddCommand(journeyDayCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for API access",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		token, err := api.MintToken([]byte(cfg.Auth.JWTSecret), user, ttl)
		if err != nil {
			return err
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "local", "user id to embed in the token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
