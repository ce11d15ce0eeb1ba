package cmd

import (
	"fmt"

	"github.com/reeze/piecode/internal/llm"
	"github.com/reeze/piecode/internal/session"
	"github.com/spf13/cobra"
)

var flagPreserveRecent int

var compactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Fold a stored session's older messages into a summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

func init() {
	compactCmd.Flags().IntVar(&flagPreserveRecent, "keep-recent", 6, "Messages to keep verbatim")
}

func runCompact(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(session.ModeChat, args[0])
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	history, err := rt.store.GetMessages(ctx, rt.sess.ID, 0, 0)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, m.ToLLMMessage())
	}

	result, err := llm.CompactHistory(ctx, rt.provider, rt.req.Model, "", messages, flagPreserveRecent)
	if err != nil {
		return err
	}
	if !result.Compacted {
		fmt.Println("nothing to compact: history already at or under the preserve-recent watermark")
		return nil
	}

	if err := rt.store.ReplaceMessages(ctx, rt.sess.ID, sessionMessagesFrom(rt.sess.ID, result.NewMessages)); err != nil {
		return fmt.Errorf("persist compacted history: %w", err)
	}
	fmt.Printf("compacted %d -> %d messages (removed %d)\n", result.MessagesBefore, result.MessagesAfter, result.RemovedMessages)
	return nil
}

var clearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Drop a stored session's history, keeping only system messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(session.ModeChat, args[0])
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	history, err := rt.store.GetMessages(ctx, rt.sess.ID, 0, 0)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, m.ToLLMMessage())
	}

	cleared := llm.ClearHistory(messages)
	if err := rt.store.ReplaceMessages(ctx, rt.sess.ID, sessionMessagesFrom(rt.sess.ID, cleared)); err != nil {
		return fmt.Errorf("persist cleared history: %w", err)
	}
	fmt.Printf("cleared %d -> %d messages\n", len(messages), len(cleared))
	return nil
}
