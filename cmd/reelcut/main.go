// Package main is the entry point for the reelcut application.
package main

import (
	"os"

	"github.com/reelcut/reelcut/cmd/reelcut/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
