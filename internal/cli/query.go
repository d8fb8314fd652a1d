package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/minder/pkg/agent"
)

var (
	querySessionID string
	queryRawJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [prompt]",
	Short: "Run one agent turn from the command line",
	Long: `Run the agent loop once for the given prompt and print the result.
Useful for smoke-testing a configuration without starting the server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&querySessionID, "session", "", "session id for history retrieval")
	queryCmd.Flags().BoolVar(&queryRawJSON, "json", false, "print the full run result as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	prompt := strings.Join(args, " ")
	result := a.loop.Run(context.Background(), prompt, agent.RunContext{SessionID: querySessionID})

	if queryRawJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if result.FinalPlan != nil {
		fmt.Fprintln(cmd.OutOrStdout(), *result.FinalPlan)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "run ended without a final plan after %d turn(s)\n", result.TurnsExecuted)
	}
	return nil
}
