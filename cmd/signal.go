package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/reeze/piecode/internal/llm"
)

// installAbortHandler wires SIGINT/SIGTERM to the engine's one-shot abort
// handle: the first signal asks the running turn to stop via
// RequestAbort/cancel; a second signal kills the process outright, so a
// wedged tool call can't make Ctrl-C unresponsive.
func installAbortHandler(cancel func(), engine *llm.Engine) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		engine.RequestAbort()
		cancel()
		<-sigCh
		os.Exit(130)
	}()
}
