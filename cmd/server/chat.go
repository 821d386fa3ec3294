package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-recruiter/internal/turn"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Chatting as %q. Empty line or Ctrl-D to quit.\n", chatUser)

		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				return nil
			}

			res, err := a.proc.ProcessTurn(ctx, chatUser, line)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s (%v)\n", turn.UserFacingError(err), err)
				continue
			}
			fmt.Fprintf(out, "Ayesha [%s]: %s\n", res.State, res.Reply)
		}
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "cli-user", "user id for the conversation")
}
