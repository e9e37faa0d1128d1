package main

import (
	"context"
	"strings"
	"time"

	"roomdeck/api_rooms/internal/events"
	"roomdeck/api_rooms/internal/handlers"
	"roomdeck/api_rooms/internal/resolver"
	"roomdeck/api_rooms/internal/rooms"
	"roomdeck/api_rooms/internal/storage"
	"roomdeck/pkg/bus"
	"roomdeck/pkg/config"
	"roomdeck/pkg/database"
	"roomdeck/pkg/kafka"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/monitoring"
	"roomdeck/pkg/redis"
	"roomdeck/pkg/server"
	"roomdeck/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("boatswain")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithField("service", "boatswain").Info("Starting Boatswain Room Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.GetEnv("DATABASE_URL", "")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	configStore := storage.NewRoomStore(db)
	if err := configStore.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Connect to redis
	redisClient, err := redis.NewClientFromURL(ctx, config.GetEnv("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	store := bus.NewRedisStore(redisClient)

	// Optional Kafka lifecycle events
	var lifecycle bus.Events = bus.NopEvents{}
	var producer *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		producer, err = kafka.NewProducer(strings.Split(brokers, ","), "boatswain", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create kafka producer")
		}
		defer producer.Close()
		lifecycle = events.NewKafkaEvents(producer, logger)
	}

	// Room registry
	managerConfig := rooms.Config{
		TickInterval: config.GetEnvDuration("ROOM_TICK_INTERVAL", time.Second),
		Keepalive:    config.GetEnvDuration("ROOM_KEEPALIVE", 5*time.Minute),
	}
	manager := rooms.NewManager(store, configStore, lifecycle, managerConfig, logger)
	go manager.Run(ctx)

	// Metadata resolvers
	registry := resolver.NewRegistry()
	registry.Register("direct", resolver.DirectResolver{})
	if !config.GetEnvBool("ENABLE_DIRECT_URLS", true) {
		registry.Disable("direct")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("boatswain", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("boatswain", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": config.GetEnv("DATABASE_URL", ""),
		"JWT_SECRET":   config.GetEnv("JWT_SECRET", ""),
	}))

	loadedRooms := metricsCollector.NewGauge("loaded_rooms", "Number of rooms owned by this process")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				loadedRooms.Set(float64(manager.LoadedCount()))
			}
		}
	}()

	jwtSecret := []byte(config.GetEnv("JWT_SECRET", ""))
	if len(jwtSecret) == 0 {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	// Initialize handlers
	roomHandlers := handlers.NewRoomHandlers(manager, configStore, registry, jwtSecret, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "boatswain", healthChecker, metricsCollector)
	roomHandlers.RegisterRoutes(router)

	// Start server with graceful shutdown; rooms are handed back to the
	// durable store before the process exits.
	serverConfig := server.DefaultConfig("boatswain", "18010")
	err = server.Start(serverConfig, router, logger, func(shutdownCtx context.Context) {
		cancel()
		manager.Shutdown(shutdownCtx)
	})
	if err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
