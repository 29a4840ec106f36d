package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// attemptView mirrors the server's delivery attempt JSON.
type attemptView struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	SubscriptionID  string     `json:"subscription_id"`
	Sequence        int        `json:"sequence"`
	Attempt         int        `json:"attempt"`
	Status          string     `json:"status"`
	HTTPStatus      int        `json:"http_status,omitempty"`
	ResponseSnippet string     `json:"response_snippet,omitempty"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
	Long:  `List delivery history, check per-event status and trigger redeliveries.`,
}

var deliveryHistoryCmd = &cobra.Command{
	Use:   "history [webhook-id]",
	Short: "List the delivery ledger for a webhook",
	Long: `List delivery attempts for a webhook, newest first.

Example:
  eventrctl delivery history 7f3b... --limit 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		path := fmt.Sprintf("/webhooks/%s/deliveries?limit=%d&offset=%d", args[0], limit, offset)
		var attempts []attemptView
		if err := doRequest("GET", path, nil, &attempts); err != nil {
			return fmt.Errorf("failed to get delivery history: %w", err)
		}

		if outputJSON {
			printOutput(attempts)
			return nil
		}
		if len(attempts) == 0 {
			fmt.Println("No delivery attempts found")
			return nil
		}
		printAttempts(attempts)
		return nil
	},
}

var deliveryStatusCmd = &cobra.Command{
	Use:   "status [webhook-id] [event-id]",
	Short: "Get delivery status of one event for one webhook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/webhooks/%s/deliveries/%s", args[0], args[1])
		var attempts []attemptView
		if err := doRequest("GET", path, nil, &attempts); err != nil {
			return fmt.Errorf("failed to get delivery status: %w", err)
		}

		if outputJSON {
			printOutput(attempts)
			return nil
		}
		fmt.Printf("Delivery attempts for event %s:\n", args[1])
		printAttempts(attempts)
		return nil
	},
}

var redeliverCmd = &cobra.Command{
	Use:   "redeliver [webhook-id] [event-id]",
	Short: "Redeliver an event to a webhook",
	Long: `Enqueue a fresh delivery of an event to a webhook, regardless of
whether earlier deliveries succeeded or exhausted their retries.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/webhooks/%s/redeliver/%s", args[0], args[1])
		var attempt attemptView
		if err := doRequest("POST", path, nil, &attempt); err != nil {
			return fmt.Errorf("failed to redeliver: %w", err)
		}

		if outputJSON {
			printOutput(attempt)
		} else {
			fmt.Printf("Redelivery enqueued: %s (sequence %d)\n", attempt.ID, attempt.Sequence)
		}
		return nil
	},
}

func printAttempts(attempts []attemptView) {
	for _, a := range attempts {
		fmt.Printf("\n  %s\n", a.ID)
		fmt.Printf("    Event: %s\n", a.EventID)
		fmt.Printf("    Sequence/attempt: %d/%d\n", a.Sequence, a.Attempt)
		fmt.Printf("    Status: %s\n", a.Status)
		if a.HTTPStatus > 0 {
			fmt.Printf("    HTTP status: %d\n", a.HTTPStatus)
		}
		if a.ErrorReason != "" {
			fmt.Printf("    Error: %s\n", a.ErrorReason)
		}
		fmt.Printf("    Scheduled: %s\n", a.ScheduledAt.Format("2006-01-02 15:04:05"))
		if a.CompletedAt != nil {
			fmt.Printf("    Completed: %s\n", a.CompletedAt.Format("2006-01-02 15:04:05"))
		}
	}
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(deliveryHistoryCmd)
	deliveryCmd.AddCommand(deliveryStatusCmd)
	deliveryCmd.AddCommand(redeliverCmd)

	deliveryHistoryCmd.Flags().Int("limit", 50, "maximum number of results")
	deliveryHistoryCmd.Flags().Int("offset", 0, "number of results to skip")
}
