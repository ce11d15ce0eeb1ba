package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/reeze/piecode/internal/config"
	"github.com/reeze/piecode/internal/session"
	"github.com/spf13/cobra"
)

var flagSessionLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().IntVar(&flagSessionLimit, "limit", 20, "Max sessions to list")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), session.ListOptions{Limit: flagSessionLimit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tMODE\tSTATUS\tTURNS\tSUMMARY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID[:min(8, len(s.ID))], s.Provider, s.Model, s.Mode, s.Status, s.LLMTurns, s.Summary)
	}
	return w.Flush()
}
