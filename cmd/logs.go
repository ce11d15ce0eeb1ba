package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/reeze/piecode/internal/config"
	"github.com/reeze/piecode/internal/debuglog"
	"github.com/spf13/cobra"
)

var flagLogsDays int

var logsCmd = &cobra.Command{
	Use:   "logs [session-id]",
	Short: "List trajectory logs, or show one session's full request/event trace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntVar(&flagLogsDays, "days", 0, "Only list sessions started within the last N days (0 = all)")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := config.GetDebugLogsDir()

	if len(args) == 0 {
		sessions, err := debuglog.ListSessions(dir)
		if err != nil {
			return fmt.Errorf("list trajectory logs: %w", err)
		}
		if flagLogsDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -flagLogsDays)
			kept := sessions[:0]
			for _, s := range sessions {
				if s.StartTime.After(cutoff) {
					kept = append(kept, s)
				}
			}
			sessions = kept
		}
		debuglog.FormatSessionList(os.Stdout, sessions, flagLogsDays)
		return nil
	}

	summary, err := debuglog.ResolveSession(dir, args[0])
	if err != nil {
		return fmt.Errorf("resolve session %q: %w", args[0], err)
	}
	sess, err := debuglog.ParseSession(summary.FilePath)
	if err != nil {
		return fmt.Errorf("parse trajectory log: %w", err)
	}
	debuglog.FormatSession(os.Stdout, sess, debuglog.FormatOptions{})
	return nil
}
