package main

import (
	"fmt"
	"os"

	"github.com/danmuck/nametransfer/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ntctl: %v\n", err)
		os.Exit(1)
	}
}
