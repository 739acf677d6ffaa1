package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/config"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/database"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/httpapi"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/ledger"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/services"
	"github.com/lpinkhard/advanced-ledger-challenge/internal/store"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := store.NewPostgres(ctx, cfg.DSN(), store.PoolConfig{
		MaxOpenConns:    cfg.PoolMaxOpenConns,
		MaxIdleConns:    cfg.PoolMaxIdleConns,
		ConnMaxLifetime: cfg.PoolConnMaxLifetime,
	})
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pg.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}
	schemaCancel()

	redisClient := database.InitRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	validator := ledger.NewValidator()
	journalService := services.NewJournalService(pg, validator, cfg, redisClient)
	outboxService := services.NewOutboxService(pg, cfg, redisClient)
	historyService := services.NewHistoryService(pg)
	eventsService := services.NewEventsService(pg)

	cronCtx, cronCancel := context.WithCancel(context.Background())
	defer cronCancel()
	go outboxService.RunCronLoop(cronCtx)

	server := httpapi.NewServer(cfg, pg, journalService, outboxService, historyService, eventsService)
	router := httpapi.NewRouter(server)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	cronCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
