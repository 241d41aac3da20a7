package cmd

import (
	"os"

	"github.com/rtchat/authserver/config"
	"github.com/rtchat/authserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "authserver",
	Short: "Account registration, email verification and session service",
	Long: `authserver registers accounts, verifies their email addresses and issues
signed session credentials. Usage:

	authserver migrate up
	authserver server
	authserver mailer
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logging.SlogLogger {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}
