package main

import (
	"context"
	"fmt"

	"chat-sync/internal/chat"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	operatorCmd.AddCommand(operatorQueueCmd)
	operatorCmd.AddCommand(operatorOpenCmd)
	rootCmd.AddCommand(operatorCmd)
}

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Work the support queue",
}

var operatorQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List sessions waiting for or handled by operators",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		sessions, err := s.api.ListSessionsForOperatorQueue(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			color.Green("queue is empty")
			return nil
		}

		out := cmd.OutOrStdout()
		for _, ss := range sessions {
			assignee := color.YellowString("unassigned")
			if ss.OperatorID != "" {
				assignee = ss.OperatorID
			}
			last := "-"
			if !ss.LastMessageAt.IsZero() {
				last = humanize.Time(ss.LastMessageAt)
			}
			fmt.Fprintf(out, "%s  %-8s  %-14s  %-12s  %s\n",
				color.CyanString(ss.CustomerID), ss.Status, assignee, last, ss.LastMessagePreview)
		}
		return nil
	},
}

var operatorOpenCmd = &cobra.Command{
	Use:   "open [customer-id]",
	Short: "Claim and open a customer's session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()
		if !s.actor.Role.IsOperator() {
			return fmt.Errorf("token does not belong to an operator")
		}

		ctrl, err := chat.NewOperatorChatController(s.options())
		if err != nil {
			return err
		}
		defer ctrl.Close()

		ctx := cmd.Context()
		if err := ctrl.SelectSession(ctx, args[0]); err != nil {
			return err
		}

		commands := map[string]commandFunc{
			"/switch": func(ctx context.Context, arg string) error {
				return ctrl.SelectSession(ctx, arg)
			},
			"/close": func(ctx context.Context, _ string) error {
				return ctrl.CloseSession(ctx)
			},
		}
		return runConversation(ctx, cmd, s.actor, ctrl, commands)
	},
}
