package main

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"screenrelay/internal/admin"
	"screenrelay/internal/relay"
	"screenrelay/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// 1. Initialize Sentry (optional, DSN via env)
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			log.Printf("Sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// 2. Initialize Database
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "relay.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// 3. Configure TLS if certificates are provided
	var tlsConfig *tls.Config
	certFile, keyFile := os.Getenv("TLS_CERT"), os.Getenv("TLS_KEY")
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			log.Fatalf("Failed to load TLS certificate: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else {
		log.Println("TLS_CERT/TLS_KEY not set, relay runs over plain TCP")
		store.SeedData() // Seed data for local dev
	}

	// 4. Start the relay
	relayPort := os.Getenv("RELAY_PORT")
	if relayPort == "" {
		relayPort = ":8443"
	}
	registry := relay.NewRegistry()
	relayServer := relay.NewServer(relayPort, registry, store, tlsConfig)
	if idle := os.Getenv("SESSION_IDLE_TIMEOUT"); idle != "" {
		d, err := time.ParseDuration(idle)
		if err != nil {
			log.Fatalf("Invalid SESSION_IDLE_TIMEOUT: %v", err)
		}
		relayServer.SessionIdleTimeout = d
	}

	serverErrors := make(chan error, 2)

	go func() {
		if err := relayServer.Start(); err != nil {
			serverErrors <- err
		}
	}()

	// 5. Start the admin API (session directory, provisioning, metrics)
	adminPort := os.Getenv("ADMIN_PORT")
	if adminPort == "" {
		adminPort = ":9090"
	}
	adminAPI := admin.New(registry, store, os.Getenv("ADMIN_TOKEN"))
	adminServer := &http.Server{
		Addr:    adminPort,
		Handler: adminAPI.Handler(),
	}

	go func() {
		log.Printf("Admin API listening on %s", adminPort)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	// Wait for interrupt or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErrors:
		log.Printf("Server error: %v, initiating shutdown...", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin server shutdown error: %v", err)
	}
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Relay shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
