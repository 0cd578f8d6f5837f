package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/querydesk/internal/pipeline"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		username   string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Long: "Runs one question through the pipeline and prints the answer. " +
			"Pass --session to continue an earlier conversation.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			uid, ok, err := a.resolveUser(ctx, username)
			if err != nil {
				return fmt.Errorf("resolve user %q: %w", username, err)
			}
			if !ok {
				return fmt.Errorf("user %q has no active permission mapping", username)
			}

			question := strings.Join(args, " ")
			result, err := a.graph.Run(ctx, question, pipeline.RunOpts{
				ThreadID: sessionID,
				UserID:   uid,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.LastAssistantMessage())
			fmt.Fprintf(out, "\nsession: %s\n", result.ThreadID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "querydesk.yaml", "path to config file")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username for permission checks")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	return cmd
}
