// The main package for the crawlserve executable.
package main

import (
	"github.com/renderbot/crawlserve/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
