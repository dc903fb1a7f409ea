package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trofify/realtime/server"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file.")
	flag.Parse()

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, startupLogger := server.SetupLogging(config.GetLogger())
	defer func() {
		_ = logger.Sync()
	}()

	if err := config.Validate(); err != nil {
		startupLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	startupLogger.Info("Trofify realtime server starting",
		zap.String("version", version), zap.String("name", config.GetName()))

	db, err := server.NewDB(startupLogger, config)
	if err != nil {
		startupLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	metrics := server.NewLocalMetrics(logger, config.GetName())
	sessionRegistry := server.NewLocalSessionRegistry(metrics)

	var presenceRegistry server.PresenceRegistry
	switch config.GetPresence().Store {
	case "redis":
		presenceRegistry, err = server.NewRedisPresenceRegistry(logger, config.GetPresence())
		if err != nil {
			startupLogger.Fatal("Failed to initialize presence registry", zap.Error(err))
		}
	default:
		presenceRegistry = server.NewLocalPresenceRegistry()
	}

	roomRegistry := server.NewLocalRoomRegistry()
	router := server.NewLocalMessageRouter(sessionRegistry, presenceRegistry, roomRegistry)

	messageStore := server.NewPostgresMessageStore(db)
	notificationStore := server.NewPostgresNotificationStore(db)

	ctx, ctxCancelFn := context.WithCancel(context.Background())
	pipeline := server.NewPipeline(ctx, logger, sessionRegistry, presenceRegistry, roomRegistry, router, messageStore, notificationStore, metrics)

	apiServer := server.StartApiServer(logger, startupLogger, db, config, metrics, sessionRegistry, presenceRegistry, roomRegistry, router, pipeline)

	startupLogger.Info("Startup done")

	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt

	startupLogger.Info("Shutting down")

	apiServer.Stop()
	ctxCancelFn()
	roomRegistry.Stop()
	presenceRegistry.Stop()
	sessionRegistry.Stop()
	if err := db.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}

	startupLogger.Info("Shutdown complete")
}
