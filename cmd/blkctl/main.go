package main

import (
	"fmt"
	"os"

	"github.com/danmuck/blkio/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blkctl: %v\n", err)
		os.Exit(1)
	}
}
