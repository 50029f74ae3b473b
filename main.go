// The main package for the extractor executable.
package main

import (
	"github.com/artikelwerk/hybrid-extractor/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
