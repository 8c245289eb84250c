package main

import (
	"os"

	"github.com/gittest/gittest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
