// Package main is the entry point for the chanscribe CLI.
package main

import (
	"os"

	"github.com/chanscribe/chanscribe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
