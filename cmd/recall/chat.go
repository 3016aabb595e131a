package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sandevgo/recall/internal/transport/cli"
	"github.com/sandevgo/recall/pkg/log"
	"github.com/sandevgo/recall/pkg/srv"
	"github.com/spf13/cobra"
)

var chatCfg cli.ChatConfig

var chatCmd = &cobra.Command{
	Use:          "chat",
	Short:        "Chat with the configured model on stdin",
	Long:         `Reads one message per line. Type /new to start a new conversation, /trace to toggle trace output and exit to quit.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)

		app, err := NewApp(ctx)
		if err != nil {
			return err
		}
		srv.StartServices(ctx, app.Services)

		chatCfg.HistoryFile = filepath.Join(app.Config.GetRuntimePath(), "input_history")
		chat, err := cli.NewChat(app.Orchestrator, nil, nil, chatCfg)
		if err != nil {
			srv.StopServices(context.WithoutCancel(ctx), app.Services)
			return err
		}
		chatErr := chat.Start(ctx)

		// the chat goes down first; pending enrichment still gets written after ctrl+c
		srv.StopServices(context.WithoutCancel(ctx), append(app.Services, chat))
		if id := chat.ConversationID(); id != "" {
			logger.Info().Str("conversation_id", id).Msg("resume with --conversation")
		}
		return chatErr
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatCfg.UserID, "user", "u", defaultUser(), "user id the memory belongs to")
	chatCmd.Flags().StringVarP(&chatCfg.ConversationID, "conversation", "c", "", "continue an existing conversation")
	chatCmd.Flags().BoolVarP(&chatCfg.ShowTrace, "trace", "t", false, "print the observability trace after each reply")
	rootCmd.AddCommand(chatCmd)
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
