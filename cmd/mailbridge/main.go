// Package main is the entry point for mailbridge.
package main

import (
	"os"

	"github.com/shineum/mailbridge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
