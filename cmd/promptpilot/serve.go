package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptpilot/promptpilot/internal/cache"
	"github.com/promptpilot/promptpilot/internal/engine"
	"github.com/promptpilot/promptpilot/internal/remote"
	"github.com/promptpilot/promptpilot/internal/server"
	"github.com/promptpilot/promptpilot/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PromptPilot server",
	Long: `Runs the PromptPilot server: local cache, version control engine,
background sync manager, and REST API.

Without a remote database DSN, the server runs in local-only mode and
sync is disabled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Address to listen on")
	serveCmd.Flags().String("cache-path", "promptpilot-cache.db", "Path to the local cache database")
	serveCmd.Flags().String("db-type", "postgres", "Remote database type (postgres or mysql)")
	serveCmd.Flags().String("db-dsn", "", "Remote database connection string (empty: local-only mode)")
	_ = viper.BindPFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	listenAddr := viper.GetString("listen")
	cachePath := viper.GetString("cache-path")
	dbType := viper.GetString("db-type")
	dbDSN := viper.GetString("db-dsn")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting promptpilot server",
		"listen", listenAddr,
		"cachePath", cachePath,
		"remote", dbDSN != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	store, err := cache.Open(cachePath, logger)
	if err != nil {
		glog.Fatalf("Failed to open local cache: %v", err)
	}

	var client remote.Client
	if dbDSN != "" {
		gormDB, err := openRemoteDatabase(dbType, dbDSN)
		if err != nil {
			glog.Fatalf("Failed to connect to remote database: %v", err)
		}
		dbClient := remote.NewDBClient(gormDB, logger)
		if err := dbClient.AutoMigrate(); err != nil {
			glog.Fatalf("Failed to migrate remote schema: %v", err)
		}
		client = dbClient
	}

	eng := engine.New(store, logger)
	mgr := syncer.NewManager(eng, client, syncer.ConfigFromEnv(), logger)
	go mgr.Run(ctx)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: server.Router(eng, mgr, store),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("promptpilot server ready", "listen", listenAddr)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("promptpilot server stopped")
	return nil
}

func openRemoteDatabase(dbType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch dbType {
	case "postgres", "":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres or mysql)", dbType)
	}
}
