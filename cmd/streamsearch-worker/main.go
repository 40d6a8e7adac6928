package main

import (
	"os"

	"github.com/streamsearch/engine/cmd/streamsearch-worker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
