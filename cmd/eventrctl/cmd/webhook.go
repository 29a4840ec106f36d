package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// webhookView mirrors the server's subscription JSON.
type webhookView struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Secret              string    `json:"secret,omitempty"`
	EventTypes          []string  `json:"event_types"`
	Active              bool      `json:"active"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// webhookCmd represents the webhook command
var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage webhook subscriptions",
	Long:  `Create, list, inspect, update and delete webhook subscriptions.`,
}

var webhookCreateCmd = &cobra.Command{
	Use:   "create [url]",
	Short: "Register a webhook subscription",
	Long: `Register a webhook subscription for one or more event types.

Example:
  eventrctl webhook create https://example.com/hooks --events EVENT_PUBLISHED,REGISTRATION_CREATED`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetString("events")
		secret, _ := cmd.Flags().GetString("secret")
		if events == "" {
			return fmt.Errorf("--events is required")
		}

		body := map[string]any{
			"url":         args[0],
			"event_types": strings.Split(events, ","),
		}
		if secret != "" {
			body["secret"] = secret
		}

		var created webhookView
		if err := doRequest("POST", "/webhooks", body, &created); err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}

		if outputJSON {
			printOutput(created)
		} else {
			fmt.Printf("Created webhook: %s\n", created.ID)
			fmt.Printf("  URL: %s\n", created.URL)
			fmt.Printf("  Event types: %s\n", strings.Join(created.EventTypes, ", "))
			if created.Secret != "" {
				fmt.Printf("  Secret: %s (shown once, store it now)\n", created.Secret)
			}
		}
		return nil
	},
}

var webhookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var subs []webhookView
		if err := doRequest("GET", "/webhooks", nil, &subs); err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}

		if outputJSON {
			printOutput(subs)
			return nil
		}
		if len(subs) == 0 {
			fmt.Println("No webhooks registered")
			return nil
		}
		for _, s := range subs {
			state := "active"
			if !s.Active {
				state = "inactive"
			}
			fmt.Printf("%s  %-8s  %s  [%s]\n", s.ID, state, s.URL, strings.Join(s.EventTypes, ", "))
		}
		return nil
	},
}

var webhookGetCmd = &cobra.Command{
	Use:   "get [webhook-id]",
	Short: "Show one webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sub webhookView
		if err := doRequest("GET", "/webhooks/"+args[0], nil, &sub); err != nil {
			return fmt.Errorf("failed to get webhook: %w", err)
		}

		if outputJSON {
			printOutput(sub)
			return nil
		}
		fmt.Printf("Webhook: %s\n", sub.ID)
		fmt.Printf("  URL: %s\n", sub.URL)
		fmt.Printf("  Event types: %s\n", strings.Join(sub.EventTypes, ", "))
		fmt.Printf("  Active: %t\n", sub.Active)
		fmt.Printf("  Consecutive failures: %d\n", sub.ConsecutiveFailures)
		fmt.Printf("  Created: %s\n", sub.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var webhookUpdateCmd = &cobra.Command{
	Use:   "update [webhook-id]",
	Short: "Update a webhook subscription",
	Long: `Update a webhook subscription. Only the flags you pass change;
reactivating a deactivated webhook resets its failure counter.

Example:
  eventrctl webhook update 7f3b... --activate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("url") {
			u, _ := cmd.Flags().GetString("url")
			body["url"] = u
		}
		if cmd.Flags().Changed("secret") {
			s, _ := cmd.Flags().GetString("secret")
			body["secret"] = s
		}
		if cmd.Flags().Changed("events") {
			e, _ := cmd.Flags().GetString("events")
			body["event_types"] = strings.Split(e, ",")
		}
		if activate, _ := cmd.Flags().GetBool("activate"); activate {
			body["active"] = true
		}
		if deactivate, _ := cmd.Flags().GetBool("deactivate"); deactivate {
			body["active"] = false
		}
		if len(body) == 0 {
			return fmt.Errorf("nothing to update, pass at least one flag")
		}

		var sub webhookView
		if err := doRequest("PATCH", "/webhooks/"+args[0], body, &sub); err != nil {
			return fmt.Errorf("failed to update webhook: %w", err)
		}

		if outputJSON {
			printOutput(sub)
		} else {
			fmt.Printf("Updated webhook: %s (active=%t)\n", sub.ID, sub.Active)
		}
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete [webhook-id]",
	Short: "Delete a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doRequest("DELETE", "/webhooks/"+args[0], nil, nil); err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		fmt.Printf("Deleted webhook: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(webhookCreateCmd)
	webhookCmd.AddCommand(webhookListCmd)
	webhookCmd.AddCommand(webhookGetCmd)
	webhookCmd.AddCommand(webhookUpdateCmd)
	webhookCmd.AddCommand(webhookDeleteCmd)

	webhookCreateCmd.Flags().String("events", "", "comma-separated event types, or * for all")
	webhookCreateCmd.Flags().String("secret", "", "signing secret (generated when omitted)")

	webhookUpdateCmd.Flags().String("url", "", "new target URL")
	webhookUpdateCmd.Flags().String("secret", "", "new signing secret")
	webhookUpdateCmd.Flags().String("events", "", "comma-separated event types")
	webhookUpdateCmd.Flags().Bool("activate", false, "reactivate the webhook")
	webhookUpdateCmd.Flags().Bool("deactivate", false, "deactivate the webhook")
}
