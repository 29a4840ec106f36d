package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the Eventr service",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st struct {
			OK       bool   `json:"ok"`
			Message  string `json:"message"`
			Database bool   `json:"database"`
		}
		if err := doRequest("GET", "/healthz", nil, &st); err != nil {
			fmt.Printf("✗ Service is unhealthy: %v\n", err)
			return nil
		}
		if st.OK {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy: %s\n", st.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
