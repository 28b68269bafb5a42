package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/nametransfer/internal/logging"
	"github.com/danmuck/nametransfer/internal/node"
)

func main() {
	configPath := flag.String("config", "", "path to a node config toml")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := node.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nametransferd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := node.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "nametransferd: %v\n", err)
		os.Exit(1)
	}
}
