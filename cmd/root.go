// Package cmd implements the piecode CLI wrapper: a thin driver over the
// Turn Driver exposed by internal/llm. It owns process-level concerns only
// (flag parsing, config loading, stdout rendering, session persistence) and
// never duplicates orchestration logic that belongs in the engine.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagProvider string
	flagModel    string
	flagSearch   bool
	flagDebug    bool
	flagTools    string
	flagMaxTurns int
)

var rootCmd = &cobra.Command{
	Use:   "piecode [request]",
	Short: "Drive the agent orchestration core from the command line",
	Long: `piecode wraps the agent orchestration core: a provider-agnostic
agentic loop (Provider Adapter, Tool Dispatcher, Context Manager, Turn
Driver, Event Bus, Policy Table) that turns a single natural-language
request into zero or more tool-using turns.

Examples:
  piecode "list the TODOs in this repo"
  piecode chat
  piecode sessions
  piecode compact <session-id>`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Provider name (default: config default_provider)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model override for the selected provider")
	rootCmd.PersistentFlags().BoolVarP(&flagSearch, "search", "s", false, "Enable web search/fetch tools")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "Print raw provider requests/responses")
	rootCmd.PersistentFlags().StringVarP(&flagTools, "tools", "t", "all", `Comma-separated tool names, or "all"/"none"`)
	rootCmd.PersistentFlags().IntVar(&flagMaxTurns, "max-turns", 0, "Override max agentic turns (0 = provider/config default)")

	rootCmd.AddCommand(askCmd, chatCmd, compactCmd, clearCmd, sessionsCmd)

	if err := rootCmd.RegisterFlagCompletionFunc("provider", providerFlagCompletion); err != nil {
		panic(err)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
