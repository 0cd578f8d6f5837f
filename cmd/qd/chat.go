package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/querydesk/internal/pipeline"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		username   string
		sessionID  string
		showStages bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: "Opens a terminal conversation that keeps context between questions. " +
			"Type 'exit' or press Ctrl-D to leave.",
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

			if sessionID == "" {
				sessionID = pipeline.NewThreadID()
			}

			out := cmd.OutOrStdout()
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Fprintf(out, "QueryDesk chat (session %s). Type 'exit' to quit.\n", sessionID)
			}

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 64*1024), 64*1024)
			for {
				if interactive {
					fmt.Fprint(out, "> ")
				}
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}

				opts := pipeline.RunOpts{ThreadID: sessionID, UserID: uid}
				if showStages {
					streamTurn(cmd, a, line, opts)
				} else {
					result, err := a.graph.Run(ctx, line, opts)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, result.LastAssistantMessage())
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "querydesk.yaml", "path to config file")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username for permission checks")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (default: new session)")
	cmd.Flags().BoolVar(&showStages, "stages", false, "print pipeline stage progress")
	return cmd
}

// streamTurn runs one question with per-stage progress output.
func streamTurn(cmd *cobra.Command, a *app, question string, opts pipeline.RunOpts) {
	out := cmd.OutOrStdout()
	for ev := range a.graph.Stream(cmd.Context(), question, opts) {
		switch ev.Type {
		case pipeline.EventStage:
			fmt.Fprintf(out, "  [%s]\n", ev.Stage)
		case pipeline.EventFinal:
			fmt.Fprintln(out, ev.Text)
		case pipeline.EventError:
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", ev.Err)
		}
	}
}
