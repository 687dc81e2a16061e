package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"compass-level/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("compass-level starting")
	log.Printf("source=%s rate=%s console=%t display=%t buttons=%t",
		cfg.Source.Kind, cfg.Source.Rate, cfg.Console.Enable, cfg.Display.Enable, cfg.Buttons.Enable)

	rt.Run(ctx)
	log.Printf("compass-level stopping")
}
