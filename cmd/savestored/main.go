package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/pocketfw/savestore/internal/clock"
	"github.com/pocketfw/savestore/internal/config"
	"github.com/pocketfw/savestore/internal/flash"
	"github.com/pocketfw/savestore/internal/storage"
	"github.com/pocketfw/savestore/internal/webui"
)

// openDriver opens the flash image, creating a blank one when configured to.
func openDriver(cfg *config.Config) (*flash.FileDriver, error) {
	path := cfg.Flash.ImagePath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !cfg.Flash.AutoCreate {
			return nil, fmt.Errorf("flash image %s doesn't exist: %w", path, err)
		}
		log.Printf("Creating flash image %s (%d bytes)", path, cfg.Flash.RegionSize)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create image directory: %w", err)
		}
		return flash.CreateFileDriver(path, cfg.Flash.RegionSize)
	}
	return flash.OpenFileDriver(path)
}

func main() {
	configPath := flag.String("config", "/etc/savestored/config.json", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	drv, err := openDriver(cfg)
	if err != nil {
		log.Fatalf("Failed to open flash image: %v", err)
	}
	defer drv.Close()

	store, err := storage.New(drv, clock.System{})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	geo := store.Geometry()
	log.Printf("Storage mounted: %d blocks of %d bytes (%s)", geo.BlockCount, geo.BlockSize, cfg.Flash.ImagePath)

	webHandler, err := webui.New(store, cfg.Upload.MaxSizeMB*1024*1024)
	if err != nil {
		log.Fatalf("Failed to initialize web UI: %v", err)
	}

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   cfg.Server.CORS.AllowedMethods,
		AllowedHeaders:   cfg.Server.CORS.AllowedHeaders,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
	})

	// Setup routes
	r := mux.NewRouter()
	webHandler.Routes(r)
	handler := c.Handler(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server at %s:%d\n", cfg.Server.Host, cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Panicf("Failed to start server: %s\n", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %s", err)
	}

	log.Println("Server exited")
}
