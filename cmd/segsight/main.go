// Package main is the entry point for the segsight application.
package main

import (
	"os"

	"github.com/segsight/segsight/cmd/segsight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
