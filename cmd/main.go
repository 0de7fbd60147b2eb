package main

import (
	"os"

	"offline-quiz-store/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
