package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lms-zabbix-sync/core/buffer"
	"lms-zabbix-sync/core/config"
	"lms-zabbix-sync/core/database"
	"lms-zabbix-sync/core/event"
	"lms-zabbix-sync/core/loader"
	"lms-zabbix-sync/core/logger"
	"lms-zabbix-sync/core/metrics"
	"lms-zabbix-sync/core/middleware/auth"
	"lms-zabbix-sync/core/middleware/rayid"
	"lms-zabbix-sync/core/queue"
	"lms-zabbix-sync/core/reconcile"
	"lms-zabbix-sync/core/storage"
	"lms-zabbix-sync/core/zabbix"

	"lms-zabbix-sync/feature/hostsync"
	"lms-zabbix-sync/feature/journal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync service",
	Long: `Connects to Zabbix and RabbitMQ, consumes LMS change notifications and
applies them to Zabbix hosts. Also serves the status API when enabled.`,
	RunE: runStart,
}

func init() {
	RootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// 1. Load and validate configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	required, err := cfg.Sync.Fields()
	if err != nil {
		return err
	}

	// 2. Initialize logger
	logg, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to Zabbix
	zbx := zabbix.NewClient(cfg.Zabbix, logg)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Zabbix.Timeout()*3)
	err = zbx.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to zabbix: %w", err)
	}

	// 4. Buffer and engine
	defaults := event.DeviceFields{GroupID: event.Ptr(zbx.GroupID())}
	if len(cfg.Zabbix.TemplateIDs) > 0 {
		defaults.TemplateIDs = cfg.Zabbix.TemplateIDs
	}
	buf := buffer.New(required, buffer.WithDefaults(defaults))
	engine := reconcile.NewEngine(zbx,
		reconcile.WithHostPrefix(cfg.Zabbix.HostPrefix),
		reconcile.WithInterfacePort(cfg.Zabbix.InterfacePort),
		reconcile.WithDefaultGroup(zbx.GroupID()))

	collector := metrics.NewCollector(func() (int, time.Duration) {
		snap := buf.Snapshot()
		return snap.Pending, snap.Oldest
	})
	opts := []hostsync.Option{hostsync.WithMetrics(collector)}

	// 5. Optional journal database
	var store *journal.Store
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		store = journal.NewStore(db)
		if err := store.Migrate(); err != nil {
			return err
		}
		opts = append(opts, hostsync.WithJournal(store))
		logg.Info("Sync journal enabled", zap.String("driver", cfg.Database.Driver))
	}

	// 6. Optional dead-letter archive
	if cfg.Storage.Enabled {
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		archive := storage.NewArchive(client, cfg.Storage.Bucket, cfg.Storage.Prefix)
		bucketCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout())
		err = archive.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			return err
		}
		opts = append(opts, hostsync.WithDeadLetters(archive))
		logg.Info("Dead-letter archive enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	svc := hostsync.NewService(cfg.Sync, buf, engine, zbx, logg, opts...)

	g, ctx := errgroup.WithContext(ctx)

	// 7. Status server
	if cfg.Server.Enabled {
		app, err := newServer(cfg, logg, svc, store, collector)
		if err != nil {
			return err
		}
		g.Go(func() error {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			return app.Listen(cfg.Server.Addr())
		})
		g.Go(func() error {
			<-ctx.Done()
			logg.Info("Shutting down server...")
			return app.ShutdownWithTimeout(5 * time.Second)
		})
	}

	// 8. Journal retention
	if store != nil {
		g.Go(func() error {
			store.RunRetention(ctx, cfg.Journal.Retention, cfg.Journal.PruneInterval, logg)
			return nil
		})
	}

	// 9. Consume and sync
	messages := make(chan queue.Message)
	consumer := queue.NewConsumer(cfg.RabbitMQ, logg)
	g.Go(func() error {
		return consumer.Consume(ctx, cfg.Prefetch(), messages)
	})
	g.Go(func() error {
		return svc.Run(ctx, messages)
	})

	return g.Wait()
}

// newServer builds the status API. /health and /metrics are registered before
// the auth middleware and stay public.
func newServer(cfg *config.Config, logg *zap.Logger, svc *hostsync.Service, store *journal.Store, collector *metrics.Collector) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// RayID must be first to trace everything
	app.Use(rayid.New())

	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		l.Debug("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"pending": svc.Buffer().Len(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey}))

	mgr := loader.NewManager()
	mgr.Register(hostsync.NewFeature(svc, logg))
	mgr.Register(journal.NewFeature(store, logg))

	loaded, err := mgr.LoadAll(app)
	if err != nil {
		return nil, err
	}
	logg.Info("Features loaded", zap.Strings("features", loaded))
	return app, nil
}
