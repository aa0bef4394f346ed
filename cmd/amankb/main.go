// Package main is the entry point for the amankb CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amankb/cmd/amankb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
