package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/reeze/piecode/internal/llm"
)

// drainStream consumes every event from a running turn, printing assistant
// text to stdout and tool/retry activity to stderr as it arrives, and returns the final
// assistant text once the stream reaches EventDone or io.EOF.
func drainStream(stream llm.Stream) (string, error) {
	defer stream.Close()

	var out, currentLine string
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}

		switch ev.Type {
		case llm.EventTextDelta:
			out += ev.Text
			currentLine += ev.Text
			fmt.Print(ev.Text)
		case llm.EventToolCall:
			if currentLine != "" {
				fmt.Println()
				currentLine = ""
			}
			fmt.Fprintf(os.Stderr, "  [tool] %s %s\n", ev.Tool.Name, ev.ToolInfo)
		case llm.EventToolExecEnd:
			status := "ok"
			if !ev.ToolSuccess {
				status = "error"
			}
			fmt.Fprintf(os.Stderr, "  [tool] %s -> %s\n", ev.ToolName, status)
		case llm.EventRetry:
			fmt.Fprintf(os.Stderr, "  [retry %d/%d] waiting %.1fs\n", ev.RetryAttempt, ev.RetryMaxAttempts, ev.RetryWaitSecs)
		case llm.EventError:
			return out, ev.Err
		case llm.EventDone:
			if currentLine != "" {
				fmt.Println()
			}
			return out, nil
		}
	}
}
