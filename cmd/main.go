/**
 * @description
 * This is the main entry point for the donation-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * transaction store, the Edfali gateway client, the message broker, the courier
 * webhook, the attempt limiter, scheduled jobs and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - github.com/jackc/pgx/v5, go.mongodb.org/mongo-driver: Store drivers.
 * - github.com/redis/go-redis/v9: Attempt limiter backend.
 * - internal/api, internal/app, internal/config, internal/jobs, internal/metrics, internal/store.
 * - pkg/edfaliclient, pkg/courierclient, pkg/rabbitmq.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/saniah/donation-service/internal/api"
	"github.com/saniah/donation-service/internal/app"
	"github.com/saniah/donation-service/internal/config"
	"github.com/saniah/donation-service/internal/jobs"
	"github.com/saniah/donation-service/internal/metrics"
	"github.com/saniah/donation-service/internal/store"
	"github.com/saniah/donation-service/pkg/courierclient"
	"github.com/saniah/donation-service/pkg/edfaliclient"
	rmrabbit "github.com/saniah/donation-service/pkg/rabbitmq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using process environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway url must be configured\" env=GATEWAY_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting donation-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	repository, closeStore := openStore(cfg)
	defer closeStore()

	serviceMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize the Edfali gateway client.
	gateway := edfaliclient.NewClient(edfaliclient.Config{
		URL:            cfg.GatewayURL,
		MerchantMobile: cfg.GatewayMerchantMobile,
		MerchantPIN:    cfg.GatewayMerchantPIN,
		Secret:         cfg.GatewaySecret,
		Timeout:        cfg.GatewayTimeout(),
		PhoneFormat:    edfaliclient.PhoneFormat(strings.ToLower(strings.TrimSpace(cfg.GatewayPhoneFormat))),
		Matcher: edfaliclient.SuccessMatcher{
			Mode:   edfaliclient.ParseMatchMode(cfg.GatewaySuccessMatch),
			Tokens: cfg.SuccessTokens(),
		},
	})
	gateway.SetRecorder(serviceMetrics)

	// The courier push is optional; without credentials only the delivery record is written.
	var courier app.CourierSender
	if strings.TrimSpace(cfg.CourierPhone) == "" || strings.TrimSpace(cfg.CourierAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"courier webhook not configured; courier pushes disabled\" courier_phone_set=%t courier_api_key_set=%t",
			strings.TrimSpace(cfg.CourierPhone) != "",
			strings.TrimSpace(cfg.CourierAPIKey) != "",
		)
	} else {
		courier = courierclient.NewClient(cfg.CourierWebhookURL, cfg.CourierPhone, cfg.CourierAPIKey)
	}

	fanout := app.NewFanoutConsumer(repository, courier, app.FanoutOptions{MaxAttempts: cfg.CourierMaxAttempts})
	fanout.SetRecorder(serviceMetrics)

	// Completed donations go to the broker when it is reachable, otherwise to an in-process dispatcher.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using local dispatcher\" err=%v", err)
		dispatcher := rmrabbit.NewLocalDispatcher()
		dispatcher.Bind(app.DonationCompletedRoutingKey, fanout.HandleAdminAlert)
		dispatcher.Bind(app.DonationCompletedRoutingKey, fanout.HandleCourierRequest)
		defer dispatcher.Close()
		publisher = dispatcher
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		publisher = rabbitProducer

		rabbitConsumer, consumerErr := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if consumerErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", consumerErr)
		}
		defer rabbitConsumer.Close()

		queues := map[string]rmrabbit.Handler{
			cfg.AdminAlertQueue: fanout.HandleAdminAlert,
			cfg.CourierQueue:    fanout.HandleCourierRequest,
		}
		for queue, handler := range queues {
			bindings := map[string]rmrabbit.Handler{app.DonationCompletedRoutingKey: handler}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.DonationEventsExchange, queue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"fan-out consumer start failed\" queue=%s err=%v", queue, err)
			}
		}
	}

	// Initialize the core application service with its dependencies.
	donationService := app.NewService(repository, gateway, publisher, app.Options{
		UnitPrice:                 cfg.UnitPrice,
		MaxQuantity:               cfg.MaxQuantity,
		EventsExchange:            cfg.DonationEventsExchange,
		InitiateLimitPerMinute:    cfg.InitiateRateLimitPerMinute,
		ConfirmAttemptsPerSession: cfg.ConfirmAttemptsPerSession,
		StalePendingAfter:         cfg.StalePendingAfter(),
	})
	donationService.SetRecorder(serviceMetrics)

	if redisClient := openRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		donationService.SetRateLimiter(app.NewRedisAttemptLimiter(redisClient, cfg.RedisRateLimitPrefix))
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := jobs.NewScheduler(jobs.NewJobs(donationService, serviceMetrics, logger), logger, cfg.StalePendingSweepSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	// Initialize the API handlers and router.
	donationHandlers := api.NewDonationHandlers(donationService)
	router := api.DonationRoutes(donationHandlers, api.RouterOptions{
		Metrics:        serviceMetrics,
		Gatherer:       prometheus.DefaultGatherer,
		AdminJWTSecret: cfg.AdminJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openStore connects the configured store driver and prepares its schema.
func openStore(cfg config.Config) (store.Repository, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.StoreDriver == config.StoreDriverMongo {
		if strings.TrimSpace(cfg.MongoURI) == "" {
			log.Fatalf("level=fatal component=bootstrap msg=\"mongo uri must be configured\" env=MONGO_URI")
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"mongo connection failed\" err=%v", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"mongo ping failed\" err=%v", err)
		}
		repo := store.NewMongoRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"mongo index setup failed\" err=%v", err)
		}
		log.Printf("level=info component=bootstrap msg=\"mongo connected\" database=%s", cfg.MongoDatabase)
		return repo, func() {
			disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelDisconnect()
			_ = client.Disconnect(disconnectCtx)
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	repo := store.NewPostgresRepository(dbpool)
	if err := repo.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		log.Fatalf("level=fatal component=bootstrap msg=\"database schema setup failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")
	return repo, dbpool.Close
}

// openRedis returns a connected client, or nil when limiting should stay disabled.
func openRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; attempt limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; attempt limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; attempt limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
