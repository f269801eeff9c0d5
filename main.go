package main

import (
	"fmt"
	"os"

	"DMProject/cli"
	"DMProject/logger"
)

func main() {
	defer func() { _ = logger.Log.Sync() }()
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
