// Package main is the entry point for the appfuel command line.
package main

import (
	"os"

	"appfuel/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
