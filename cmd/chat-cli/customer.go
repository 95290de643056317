package main

import (
	"fmt"

	"chat-sync/internal/chat"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(customerCmd)
}

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Open your support session and chat with an operator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()
		if s.actor.Role.IsOperator() {
			return fmt.Errorf("token belongs to an operator, use chat-cli operator")
		}

		ctrl, err := chat.NewChatController(s.options())
		if err != nil {
			return err
		}
		defer ctrl.Close()

		ctx := cmd.Context()
		if err := ctrl.Initialize(ctx); err != nil {
			return err
		}
		return runConversation(ctx, cmd, s.actor, ctrl, nil)
	},
}
