// Command piecode drives the agent orchestration core from a terminal.
package main

import "github.com/reeze/piecode/cmd"

func main() {
	cmd.Execute()
}
