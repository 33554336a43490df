package cmd

import (
	"context"
	"os"

	"github.com/bugsnag/bugsnag-go/v2"
	_ "github.com/heroku/x/hmetrics/onload"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) int {
	_ = godotenv.Load()

	if key, ok := os.LookupEnv("BUGSNAG_API_KEY"); ok {
		bugsnag.Configure(bugsnag.Configuration{
			APIKey:          key,
			ReleaseStage:    os.Getenv("ENV"),
			ProjectPackages: []string{"main", "github.com/christianselig/apns"},
		})
	}

	rootCmd := NewRootCmd(ctx)
	if err := rootCmd.Execute(); err != nil {
		if _, ok := os.LookupEnv("BUGSNAG_API_KEY"); ok {
			_ = bugsnag.Notify(err, ctx)
		}
		return 1
	}

	return 0
}

func NewRootCmd(ctx context.Context) *cobra.Command {
	debug := false

	rootCmd := &cobra.Command{
		Use:          "apns",
		Short:        "Sends push notifications through the Apple Push Notification service.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "log at debug level")

	rootCmd.AddCommand(PushCmd(ctx, &debug))

	return rootCmd
}
