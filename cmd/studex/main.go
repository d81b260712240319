package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Failures already shown as notifications are not repeated.
		var reported errReported
		if !errors.As(err, &reported) {
			printError("%v", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studex",
		Short:         "StuDex campus marketplace client",
		Long:          "Sign in to StuDex, search student services and browse jobs from the terminal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment variables win.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also write logs to stderr")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newSignupCmd(),
		newWhoamiCmd(),
		newSearchCmd(),
		newJobsCmd(),
		newConfigCmd(),
		newMCPCmd(),
		newDevServerCmd(),
	)
	return root
}
