// Package main provides the main entry point for the Mailtide campaign automation engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mailtide/mailtide/app/router"
	"github.com/mailtide/mailtide/app/scheduler"
	"github.com/mailtide/mailtide/app/services"
	"github.com/mailtide/mailtide/config"
	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/repository"
)

// Application represents the main application structure
type Application struct {
	router *router.FiberRouter
	config *config.ProductionConfig
	server *fiber.App

	// Triggers is the in-process entry point for domain events. The authoring
	// surface calls it when subscribers are created or tagged.
	Triggers *scheduler.TriggerDispatcher

	stopFuncs []func()
}

func main() {
	log.Println("Starting Mailtide application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	if cfg.AutoMigrate {
		if err := migrateSchema(db); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		log.Println("Database schema migrated")
	}

	return db, nil
}

// migrateSchema keeps the database schema in lockstep with the models
func migrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Customer{},
		&models.Group{},
		&models.Tag{},
		&models.Subscriber{},
		&models.Segment{},
		&models.Campaign{},
		&models.Template{},
		&models.CampaignSchedule{},
		&models.ExecutionRecord{},
		&models.DripProgress{},
		&models.TriggerFiring{},
	)
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeDispatcher selects the outbound email dispatcher
func initializeDispatcher(cfg *config.ProductionConfig) services.EmailDispatcher {
	switch cfg.Email.Dispatcher {
	case "smtp":
		log.Printf("Using SMTP dispatcher via %s:%d", cfg.Email.SMTPHost, cfg.Email.SMTPPort)
		return services.NewSMTPDispatcher(&cfg.Email)
	default:
		log.Println("Using mock email dispatcher")
		return services.NewMockEmailDispatcher()
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, cfg.Cache.PingInterval)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	scheduleRepo := repository.NewCampaignScheduleRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	subscriberRepo := repository.NewSubscriberRepository(db)
	segmentRepo := repository.NewSegmentRepository(db)
	dripRepo := repository.NewDripProgressRepository(db)
	firingRepo := repository.NewTriggerFiringRepository(db)

	// Initialize services
	dispatcher := initializeDispatcher(cfg)
	segmentation := services.NewSegmentationService()

	// Initialize the automation engine
	schedLogger := scheduler.NewSchedulerLogger(cfg.Logging)
	resolver := scheduler.NewRecipientResolver(subscriberRepo, segmentRepo, segmentation)
	engine := scheduler.NewEngine(
		scheduleRepo,
		campaignRepo,
		templateRepo,
		dripRepo,
		resolver,
		dispatcher,
		nil,
		schedLogger,
		scheduler.EngineOptions{
			SendTimeout:       cfg.Scheduler.SendTimeout,
			ControlCheckEvery: cfg.Scheduler.ControlCheckEvery,
		},
	)
	recorder := scheduler.NewRecorder(scheduleRepo, dripRepo, schedLogger)
	triggers := scheduler.NewTriggerDispatcher(scheduleRepo, firingRepo, nil, schedLogger)

	var locker scheduler.ScheduleLocker
	if rc != nil {
		locker = scheduler.NewRedisScheduleLocker(rc, cfg.Scheduler.LockTTL, schedLogger)
	} else {
		locker = scheduler.NewLocalScheduleLocker()
	}

	if cfg.Scheduler.Enabled {
		poller := scheduler.NewPoller(
			engine,
			recorder,
			scheduleRepo,
			firingRepo,
			locker,
			nil,
			schedLogger,
			scheduler.PollerOptions{
				PollInterval:      cfg.Scheduler.PollInterval,
				BatchSize:         cfg.Scheduler.BatchSize,
				MaxFiringAttempts: cfg.Scheduler.MaxFiringAttempts,
			},
		)
		stopPoller := poller.Start(context.Background())
		stopFuncs = append(stopFuncs, stopPoller)
		log.Printf("Scheduler poller started, interval %s", cfg.Scheduler.PollInterval)
	} else {
		log.Println("Scheduler disabled, running ops surface only")
	}

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, db, rc)

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		Triggers:  triggers,
		stopFuncs: stopFuncs,
	}

	return application, nil
}
