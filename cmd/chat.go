package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/reeze/piecode/internal/llm"
	"github.com/reeze/piecode/internal/session"
	"github.com/spf13/cobra"
)

var flagResumeSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive multi-turn session over stdin/stdout",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagResumeSession, "resume", "", "Resume a prior session by id prefix")
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(session.ModeChat, flagResumeSession)
	if err != nil {
		return err
	}
	defer rt.close()

	systemPrompt := "You are piecode, a conversational coding assistant. Keep context across turns."
	rt.req.Messages = []llm.Message{llm.SystemText(systemPrompt)}
	if flagResumeSession != "" {
		history, err := rt.store.GetMessages(cmd.Context(), rt.sess.ID, 0, 0)
		if err != nil {
			return fmt.Errorf("load session history: %w", err)
		}
		for _, m := range history {
			rt.req.Messages = append(rt.req.Messages, m.ToLLMMessage())
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	installAbortHandler(cancel, rt.engine)

	fmt.Printf("session %s (provider=%s model=%s). Empty line or Ctrl-D to exit.\n", rt.sess.ID, rt.sess.Provider, rt.sess.Model)
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !reader.Scan() {
			break
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			break
		}
		if line == "/compact" {
			result, err := rt.compact(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "compact failed:", err)
			} else if result.Compacted {
				fmt.Fprintf(os.Stderr, "compacted %d -> %d messages\n", result.MessagesBefore, result.MessagesAfter)
			}
			continue
		}
		if line == "/clear" {
			rt.req.Messages = llm.ClearHistory(rt.req.Messages)
			continue
		}

		_ = rt.store.IncrementUserTurns(ctx, rt.sess.ID)
		stream, err := rt.engine.RunTurn(ctx, rt.req, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		text, err := drainStream(stream)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		rt.req.Messages = append(rt.req.Messages, llm.UserText(line), llm.AssistantText(text))
	}

	return rt.store.UpdateStatus(ctx, rt.sess.ID, session.StatusComplete)
}

