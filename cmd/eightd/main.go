// Command eightd works with 8D report backups offline: it creates blank
// backups, merges backups, renders them to XLSX or PDF and prints the label
// tables.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/DukeRupert/eightd/internal"
	"github.com/spf13/cobra"
)

// cli carries the state shared by all commands.
type cli struct {
	logger   *slog.Logger
	now      func() time.Time
	logLevel string
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	c := &cli{now: time.Now}

	rootCmd := &cobra.Command{
		Use:   "eightd",
		Short: "8D Report Assistant command line tools",
		Long: `eightd creates, merges and renders 8D report backups without a server.

A backup is the JSON document downloaded from the report API. It can be
rendered to a spreadsheet or a PDF, or merged into another backup the same
way the API restores it into a session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = internal.NewLogger(stderr, "development", c.logLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		c.newCmd(),
		c.exportCmd(),
		c.restoreCmd(),
		c.labelsCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
