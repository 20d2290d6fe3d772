package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookstore/internal/config"
	"bookstore/internal/handlers"
	"bookstore/internal/logger"
	"bookstore/internal/metrics"
	"bookstore/internal/middleware"
	"bookstore/internal/models"
	"bookstore/internal/notify"
	"bookstore/internal/repositories"
	"bookstore/internal/services"
	"bookstore/internal/storage"
	"bookstore/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := buildApp(context.Background(), cfg, log, reg)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}

	// --- Start HTTP Server ---
	log.Info("starting server", zap.String("port", cfg.Server.Port))

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.fiber.Listen(cfg.Server.Port); err != nil {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-quit
	log.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	log.Info("server gracefully stopped")
}

// application is the wired service and everything Shutdown must release.
type application struct {
	fiber   *fiber.App
	service *services.InventoryService
	hub     *notify.Hub
	engine  *storage.Engine
	mq      *rabbitmq.Client
	log     *zap.Logger
}

// buildApp wires storage, the store, notifications, the broker and the HTTP
// routes from cfg. Metrics are registered on reg.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger, reg *prometheus.Registry) (*application, error) {
	m := metrics.New(cfg.Metrics.Prefix, reg)
	a := &application{log: log}

	// --- Initialize Repository ---
	var repo repositories.ProductRepository
	if cfg.DB.Driver == config.DriverMemory {
		repo = repositories.NewMemoryProductRepository()
		log.Warn("using in-memory inventory, data is lost on exit")
	} else {
		a.engine = storage.New(cfg.DB, log.Named("storage"))
		// Storage opens lazily; a failure here is reported again on first use.
		if _, err := a.engine.Open(ctx); err != nil {
			log.Warn("storage not available at startup", zap.Error(err))
		}
		repo = repositories.NewGORMProductRepository(a.engine)
	}

	// --- Initialize Services ---
	a.hub = notify.NewHub(cfg.Inventory.SubscriberBuffer, log.Named("notify"), m)
	opts := []services.Option{
		services.WithLogger(log.Named("inventory")),
		services.WithMetrics(m),
		services.WithPageSize(cfg.Inventory.PageSize),
	}

	// --- Initialize RabbitMQ Client ---
	if cfg.RabbitMQ.URL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{
			URL:    cfg.RabbitMQ.URL,
			Queue:  cfg.RabbitMQ.Queue,
			Buffer: cfg.RabbitMQ.PublishBuffer,
		}, log.Named("rabbitmq"), m)
		if err != nil {
			a.closeStorage()
			return nil, err
		}
		a.mq = mq
		opts = append(opts, services.WithPublisher(mq))

		if cfg.RabbitMQ.Consume {
			if err := mq.ConsumeChanges(rabbitmq.LogChange(log.Named("changes"))); err != nil {
				log.Error("failed to start RabbitMQ consumer", zap.Error(err))
			}
		}
	}

	a.service = services.NewInventoryService(repo, a.hub, opts...)

	if cfg.Inventory.SeedDemo {
		seedDemo(ctx, a.service, log)
	}

	// --- Initialize Fiber App ---
	a.fiber = fiber.New(fiber.Config{AppName: cfg.ServiceName})

	// --- Middleware ---
	a.fiber.Use(middleware.RequestID(), middleware.RequestLogger(log))
	a.fiber.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${locals:request_id} ${status} - ${latency} ${method} ${path}\n",
	}))
	a.fiber.Use(middleware.Metrics(m))

	// --- API Routes ---
	inventoryHandler := handlers.NewInventoryHandler(a.service, log.Named("http"))
	inventoryHandler.RegisterRoutes(a.fiber.Group("/api/v1"))

	a.fiber.Get("/health", inventoryHandler.HandleHealth)
	a.fiber.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return a, nil
}

// Shutdown stops the HTTP server, ends every event stream and releases the
// broker and storage connections.
func (a *application) Shutdown() error {
	var errs []error
	// Streams block fiber's shutdown until their subscriptions close.
	a.hub.Close()
	if err := a.fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		errs = append(errs, fmt.Errorf("fiber shutdown: %w", err))
	}
	if a.mq != nil {
		if err := a.mq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *application) closeStorage() error {
	if a.engine == nil {
		return nil
	}
	if err := a.engine.Close(); err != nil {
		return fmt.Errorf("storage close: %w", err)
	}
	return nil
}

// seedDemo inserts the demo product into an empty inventory.
func seedDemo(ctx context.Context, svc *services.InventoryService, log *zap.Logger) {
	count, err := svc.Count(ctx)
	if err != nil {
		log.Error("cannot seed demo data", zap.Error(err))
		return
	}
	if count > 0 {
		return
	}

	name, supplier, phone := "BookOne", "Mary", "2345650043"
	price, quantity := int64(40), 2
	id, err := svc.Insert(ctx, models.ProductFields{
		Name:          &name,
		Price:         &price,
		Quantity:      &quantity,
		SupplierName:  &supplier,
		SupplierPhone: &phone,
	})
	if err != nil {
		log.Error("error seeding demo product", zap.Error(err))
		return
	}
	log.Info("seeded demo product", zap.Int64("id", id), zap.String("name", name))
}
