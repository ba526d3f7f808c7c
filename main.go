// The main package for the pagespeed executable.
package main

import (
	"github.com/JakeFAU/pagespeed-auditor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
