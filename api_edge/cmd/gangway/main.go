package main

import (
	"context"
	"time"

	"roomdeck/api_edge/internal/clients"
	"roomdeck/api_edge/internal/handlers"
	"roomdeck/pkg/bus"
	"roomdeck/pkg/config"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/monitoring"
	"roomdeck/pkg/ratelimit"
	"roomdeck/pkg/redis"
	"roomdeck/pkg/server"
	"roomdeck/pkg/version"
)

func main() {
	// Initialize logger
	logger := logging.NewLoggerWithService("gangway")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithField("service", "gangway").Info("Starting Gangway Websocket Edge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to redis
	redisClient, err := redis.NewClientFromURL(ctx, config.GetEnv("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	store := bus.NewRedisStore(redisClient)

	jwtSecret := []byte(config.GetEnv("JWT_SECRET", ""))
	if len(jwtSecret) == 0 {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	// Rate limiting for client requests
	limiter := ratelimit.NewLimiter(
		redisClient,
		config.GetEnvInt("RATELIMIT_POINTS", 60),
		config.GetEnvDuration("RATELIMIT_WINDOW", time.Minute),
	)

	// Room loading goes through the room service
	loader := clients.NewHTTPLoader(config.GetEnv("ROOM_SERVICE_URL", "http://localhost:18010"))

	manager := clients.NewClientManager(store, loader, clients.NoLocalRooms{}, limiter, jwtSecret, logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("gangway", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("gangway", version.Version, version.GitCommit)

	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"JWT_SECRET": config.GetEnv("JWT_SECRET", ""),
	}))

	connections := metricsCollector.NewGauge("websocket_connections", "Current websocket connections")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connections.Set(float64(manager.ConnectionCount()))
			}
		}
	}()

	// Initialize handlers
	edgeHandlers := handlers.NewEdgeHandlers(manager, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "gangway", healthChecker, metricsCollector)
	edgeHandlers.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("gangway", "18011")
	err = server.Start(serverConfig, router, logger, func(context.Context) {
		cancel()
		manager.Shutdown()
	})
	if err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
