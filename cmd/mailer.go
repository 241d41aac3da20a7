package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtchat/authserver/config"
	"github.com/rtchat/authserver/internal/mailer"
	"github.com/rtchat/authserver/internal/mq"
	"github.com/rtchat/authserver/internal/storage"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Renders verification emails into the mail outbox",
	Long: `Consumes verification notices from the message queue and writes the
rendered emails into the outbox bucket. Usage:

	authserver mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg).With("component", "mailer")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ, log)
		if err != nil {
			return fmt.Errorf("open message queue: %w", err)
		}
		defer queue.Close()

		outbox, err := storage.Open(ctx, cfg.Outbox)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}

		worker, err := mailer.NewWorker(queue, outbox, mailer.Config{
			Channel:   cfg.MQ.Channel,
			PublicURL: cfg.PublicURL,
			From:      cfg.Outbox.MailFrom,
		}, log)
		if err != nil {
			return err
		}
		return worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
