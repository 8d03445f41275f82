package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/cpf"
	"github.com/tisystems/user-sync-service/internal/fetch"
	"github.com/tisystems/user-sync-service/internal/ingestion"
	"github.com/tisystems/user-sync-service/internal/reconcile"
	"github.com/tisystems/user-sync-service/internal/server"
	"github.com/tisystems/user-sync-service/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize storage
	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}
	defer store.Close()

	// Initialize ingestion pipeline
	fetcher := fetch.NewClient(cfg.Sources)
	ingestor := ingestion.NewService(fetcher, store)

	// Matching engine over the snapshots
	engine := reconcile.NewEngine(store)

	// CPF subsystem: the external base is optional; without it the CPF
	// endpoints report their unconfigured state instead of failing startup.
	var cpfSource cpf.Source
	if cfg.CPF.SourceDSN != "" {
		source, err := cpf.NewSourceDB(cfg.CPF)
		if err != nil {
			log.Fatal("Failed to connect to CPF source:", err)
		}
		defer source.Close()
		cpfSource = source
	} else {
		log.Println("CPF_SOURCE_DSN not set, CPF cache refresh disabled")
	}
	pusher := cpf.NewWebhookClient(cfg.CPF)
	cpfService := cpf.NewService(store, cpfSource, pusher)

	// Initialize HTTP server for API endpoints
	httpServer := server.NewServer(cfg.Server, store, ingestor, engine, cpfService)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server
	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.Server.Port)
		if err := httpServer.Start(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
