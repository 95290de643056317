package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-sync/internal/chat"
	"chat-sync/internal/env"
	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/logger"
	"chat-sync/internal/model"
	"chat-sync/internal/transport/apiclient"
	"chat-sync/internal/transport/wsclient"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var cfg env.Client

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "Terminal client for customer support chats",
	Long: `chat-cli talks to the chat api and websocket gateway. Customers open
their support session, operators work through the queue and pick up sessions.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := env.LoadClient()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("api") {
			loaded.APIURL, _ = flags.GetString("api")
		}
		if flags.Changed("ws") {
			loaded.WebsocketURL, _ = flags.GetString("ws")
		}
		if flags.Changed("token") {
			loaded.Token, _ = flags.GetString("token")
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("api", "", "chat api base url (default $CHAT_API_URL)")
	rootCmd.PersistentFlags().String("ws", "", "websocket channel url (default $CHAT_WS_URL)")
	rootCmd.PersistentFlags().String("token", "", "access token (default $CHAT_TOKEN)")
}

// session bundles what an interactive command needs to talk to the backend.
type session struct {
	actor   model.Actor
	api     *apiclient.Client
	channel *chat.SharedChannel
	log     logger.ILogger
}

func newSession() (*session, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no token: pass --token or set CHAT_TOKEN (see chat-cli token)")
	}
	actor, err := internaljwt.ActorFromToken(cfg.Token)
	if err != nil {
		return nil, err
	}

	log := logger.NewIsolatedLogger(cfg.LogFile)
	api := apiclient.New(cfg.APIURL, cfg.Token, apiclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	ws := wsclient.New(wsclient.Config{
		URL:    cfg.WebsocketURL,
		Token:  cfg.Token,
		Logger: log,
	})

	return &session{
		actor:   actor,
		api:     api,
		channel: chat.NewSharedChannel(ws),
		log:     log,
	}, nil
}

func (s *session) options() chat.Options {
	return chat.Options{
		Actor:   s.actor,
		API:     s.api,
		Channel: s.channel,
		Logger:  s.log,
	}
}

func (s *session) close() {
	_ = s.log.Sync()
}
