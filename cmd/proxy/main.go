package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WillKirkmanM/forward-cache-proxy/internal/config"
	"github.com/WillKirkmanM/forward-cache-proxy/internal/proxy"
)

// main initializes and starts the forward caching proxy.
// This function orchestrates the entire application lifecycle including:
// - Argument parsing and validation
// - Server initialisation with graceful shutdown support
// - Signal handling for clean termination
func main() {
	cfg, err := config.FromArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(1)
	}
	config.SetInstance(cfg)

	// SIGPIPE is ignored rather than left at its default terminating
	// disposition: a client closing its socket mid-write must not kill the
	// whole process.
	signal.Ignore(syscall.SIGPIPE)

	server, err := proxy.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create proxy server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("starting proxy server on port %d", cfg.Server.Port)
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-sigChan
	log.Println("received termination signal, shutting down gracefully...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	log.Println("proxy server stopped")
}
