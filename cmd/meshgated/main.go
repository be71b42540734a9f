package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/meshgate/internal/gateway"
	"github.com/danmuck/meshgate/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	logger := observability.InitLogger("meshgated")

	cfg := gateway.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshgated: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := gateway.NewService(cfg, logger)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "meshgated: %v\n", err)
		os.Exit(1)
	}
}
