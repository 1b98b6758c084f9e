// Package main is the entry point for the segsight-aid inference worker.
package main

import (
	"os"

	"github.com/segsight/segsight/cmd/segsight-aid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
