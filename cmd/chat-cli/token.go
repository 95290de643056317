package main

import (
	"fmt"
	"time"

	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/model"

	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.Flags().String("id", "", "actor id")
	tokenCmd.Flags().String("role", string(model.RoleUser), "actor role (user, cashier, admin, bot)")
	tokenCmd.Flags().Duration("ttl", internaljwt.DefaultTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with CHAT_TOKEN_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if cfg.TokenSecret == "" {
			return fmt.Errorf("CHAT_TOKEN_SECRET is not set")
		}
		issuer, err := internaljwt.NewIssuer(cfg.TokenSecret, ttl)
		if err != nil {
			return err
		}
		token, err := issuer.CreateToken(model.Actor{ID: id, Role: model.Role(role)}, 0)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", time.Unix(token.ExpiresAt, 0).Format(time.RFC3339))
		return nil
	},
}
