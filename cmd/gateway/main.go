package main

import (
	"context"
	"log"

	"github.com/AnnaFoldberg/tea-app/cmd/gateway/server"
	"github.com/AnnaFoldberg/tea-app/pkg/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	srv, err := server.NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
