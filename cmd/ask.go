package cmd

import (
	"context"
	"fmt"

	"github.com/reeze/piecode/internal/llm"
	"github.com/reeze/piecode/internal/session"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "One-shot request: run a single turn and print the result",
	Args:  cobra.ArbitraryArgs,
	RunE:  runAsk,
}

// runAsk is also the root command's default action, matching the teacher's
// "bare invocation runs the primary command" idiom.
func runAsk(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("please provide a request, e.g.: piecode \"summarize this repo\"")
	}

	rt, err := newRuntime(session.ModeAsk, "")
	if err != nil {
		return err
	}
	defer rt.close()

	systemPrompt := "You are piecode, an agent that completes one self-contained request per invocation."
	rt.req.Messages = []llm.Message{llm.SystemText(systemPrompt)}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	installAbortHandler(cancel, rt.engine)

	stream, err := rt.engine.RunTurn(ctx, rt.req, joinArgs(args))
	if err != nil {
		return err
	}

	text, err := drainStream(stream)
	if err != nil {
		_ = rt.store.UpdateStatus(ctx, rt.sess.ID, session.StatusError)
		return err
	}
	_ = rt.store.UpdateStatus(ctx, rt.sess.ID, session.StatusComplete)
	rt.engine.ResetConversation()
	_ = text
	return nil
}
