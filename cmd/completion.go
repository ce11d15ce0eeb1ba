package cmd

import (
	"github.com/reeze/piecode/internal/llm"
	"github.com/spf13/cobra"
)

// providerFlagCompletion offers shell completion for --provider from the
// curated provider list, the way the teacher's flags.go wires provider
// completion for its own commands.
func providerFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return llm.GetProviderCompletions(toComplete, false), cobra.ShellCompDirectiveNoFileComp
}
