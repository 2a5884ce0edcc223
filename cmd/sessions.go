package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/archive"
	"github.com/parleyhq/parley/internal/config"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List archived sessions, most recent first",
	RunE:  listSessions,
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions(cmd *cobra.Command, args []string) error {
	path := cfg.Archive.Path
	if path == "" {
		path = config.DefaultArchivePath()
	}
	store, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Sessions(sessionsLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No archived sessions.")
		return nil
	}
	for _, rec := range recs {
		state := "running"
		if !rec.CompletedAt.IsZero() {
			state = "completed " + rec.CompletedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-38s %-12s started %s  %s\n",
			rec.SessionID, rec.BaseBranch,
			rec.StartedAt.Format("2006-01-02 15:04"), state)
	}
	return nil
}
