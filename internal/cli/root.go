package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Run executes the command line and returns the first error.
func Run(args []string) error {
	return RunContext(context.Background(), args, os.Stdout, os.Stderr)
}

func RunContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		return errors.New("aborted")
	}
	return err
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	cc := newCommandContext(stdout, stderr)

	rootCmd := &cobra.Command{
		Use:   "yt-transcripts",
		Short: "Bulk transcript extraction with tiered fallbacks and resumable sessions",
		Long: `yt-transcripts pulls transcripts for many videos at once.

Each video goes through the enabled tiers in order (captions, proxied, managed)
until one produces a transcript. Progress is written through to a session
directory so an interrupted run can be resumed with "yt-transcripts resume".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "Configuration file path (default ./yt-transcripts.toml)")
	rootCmd.PersistentFlags().BoolVar(&cc.debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&cc.jsonFlag, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newRunCommand(cc))
	rootCmd.AddCommand(newResumeCommand(cc))
	rootCmd.AddCommand(newStatusCommand(cc))
	rootCmd.AddCommand(newSessionsCommand(cc))
	rootCmd.AddCommand(newDoctorCommand(cc))
	return rootCmd
}
