// The main package for the doccrawler executable.
package main

import (
	"github.com/JakeFAU/doccrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
