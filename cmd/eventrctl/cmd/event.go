package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish domain events",
	Long:  `Publish domain events through the development ingestion endpoint.`,
}

var publishCmd = &cobra.Command{
	Use:   "publish [event-type] [aggregate-id] [payload-json]",
	Short: "Publish a domain event",
	Long: `Publish a domain event with a JSON payload. Only available against
servers running outside production.

Example:
  eventrctl event publish EVENT_PUBLISHED evt_789 '{"event_id":"evt_789","title":"All Hands"}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		body := map[string]any{
			"type":         args[0],
			"aggregate_id": args[1],
			"data":         payload,
		}

		var ev struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if err := doRequest("POST", "/events", body, &ev); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputJSON {
			printOutput(ev)
		} else {
			fmt.Printf("Published event: %s (%s)\n", ev.ID, ev.Type)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)
}
