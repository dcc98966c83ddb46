package main

import (
	"log"

	"github.com/AnnaFoldberg/tea-app/cmd/barista/server"
	"github.com/AnnaFoldberg/tea-app/pkg/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	srv := server.NewServer(cfg)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
