package main

import (
	"academy/automation"
	"academy/config"
	tagControllers "academy/controllers/tagControllers"
	"academy/database"
	"academy/routers/catalogRoutes"
	"academy/routers/tagRoutes"
	"academy/rules"
	"academy/utils"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// services is everything the HTTP layer and the scheduler need.
type services struct {
	engine *automation.Engine
	sender *automation.SequenceSender
}

func buildServices(db *gorm.DB, registry *rules.Registry, cfg *config.Config, zlog *zap.Logger) (*services, error) {
	directory := automation.NewGormStaffDirectory(db)
	policy, err := automation.NewAssignmentPolicy(cfg.DfyAssignmentPolicy, directory, db, cfg.DfyAssigneeEmail, cfg.DfyStaffRole)
	if err != nil {
		return nil, err
	}

	dispatcherOpts := []automation.DispatcherOption{automation.WithDedupe(cfg.DedupeNotifications)}
	if cfg.VerifyAPIURL != "" {
		dispatcherOpts = append(dispatcherOpts, automation.WithVerifier(utils.NewVerifyClient(cfg.VerifyAPIURL, cfg.VerifyAPIKey)))
	}
	dispatcher := automation.NewDispatcher(db, utils.NewMailer(cfg, zlog), automation.NewDirectMessenger(db), zlog, dispatcherOpts...)

	tags := automation.NewTagStore(db, zlog)
	sequences := automation.NewSequenceScheduler(db, zlog, cfg.SequenceInitialDelay, cfg.SequenceSendHour)

	engine := automation.NewEngine(db, registry, automation.Components{
		Tags:        tags,
		Enroller:    automation.NewEnrollmentExecutor(db, tags, zlog),
		Promoter:    automation.NewLifecyclePromoter(db, registry, zlog),
		Sequences:   sequences,
		Fulfillment: automation.NewFulfillmentHandler(db, tags, policy, zlog, cfg.AppBaseURL),
		MiniDiploma: automation.NewMiniDiplomaHandler(db, tags, sequences, zlog, cfg.AppBaseURL),
		Dispatcher:  dispatcher,
	}, zlog, automation.Settings{
		AppBaseURL:        cfg.AppBaseURL,
		BundleConcurrency: cfg.BundleConcurrency,
	})

	return &services{
		engine: engine,
		sender: automation.NewSequenceSender(sequences, dispatcher, db, zlog, cfg.SequenceBatchSize),
	}, nil
}

func newApp(svc *services, zlog *zap.Logger) *fiber.App {
	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE",        // Allowed HTTP methods
		AllowHeaders: "Content-Type,Authorization", // Allowed headers
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": true, "rules_version": svc.engine.Registry().Version()})
	})

	tagRoutes.SetupTagRoutes(app, tagControllers.NewTagController(svc.engine, zlog))
	catalogRoutes.SetupCatalogRoutes(app)
	return app
}

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	zlog, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	database.ConnectDb()
	db := database.Database.Db

	registry, err := loadRegistry(cfg.RulesFile)
	if err != nil {
		zlog.Fatal("failed to load rule registry", zap.Error(err))
	}
	zlog.Info("rule registry loaded",
		zap.Int("version", registry.Version()),
		zap.String("checksum", registry.Checksum()),
	)

	svc, err := buildServices(db, registry, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to assemble automation engine", zap.Error(err))
	}
	if err := svc.engine.RecordRegistrySnapshot(context.Background()); err != nil {
		zlog.Warn("failed to record rule registry snapshot", zap.Error(err))
	}

	scheduler, err := utils.InitializeSequenceScheduler(cfg.SequenceCron, 2*time.Minute, func(ctx context.Context) {
		stats, err := svc.sender.ProcessDue(ctx, time.Now())
		if err != nil {
			zlog.Error("sequence pass failed", zap.Error(err))
			return
		}
		if stats.Due > 0 {
			zlog.Info("sequence pass", zap.Int("due", stats.Due), zap.Int("sent", stats.Sent),
				zap.Int("failed", stats.Failed), zap.Int("completed", stats.Completed))
		}
	}, zlog)
	if err != nil {
		zlog.Fatal("failed to start sequence scheduler", zap.Error(err))
	}

	app := newApp(svc, zlog)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		zlog.Info("shutting down")
		<-scheduler.Stop().Done()
		_ = app.Shutdown()
	}()

	zlog.Info("server is running", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func loadRegistry(path string) (*rules.Registry, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.LoadFile(path)
}
