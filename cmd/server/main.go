package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/itam/internal/adapter/handler"
	"github.com/rl1809/itam/internal/adapter/storage"
	"github.com/rl1809/itam/internal/config"
	"github.com/rl1809/itam/internal/core/service"
	"github.com/rl1809/itam/internal/port"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "itam",
		Short:         "IT asset and license lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd(), checkCmd(), migrateCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds everything a command needs once config, logging and storage are
// up.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.SQLStore
	rdb    *redis.Client
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", zap.String("driver", store.Dialect()))

	a := &app{cfg: cfg, logger: logger, store: store}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Dedup falls back to the store's unique key.
			logger.Warn("redis unavailable, continuing without cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rdb.Close()
		} else {
			logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
			a.rdb = rdb
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.store.Close()
	a.logger.Sync()
}

func (a *app) cache() port.CacheRepository {
	if a.rdb == nil {
		return nil
	}
	return storage.NewRedisAdapter(a.rdb)
}

func (a *app) notificationService() *service.NotificationService {
	n := a.cfg.Notifications
	rules := service.DefaultRules(service.RuleConfig{
		LicenseExpiryDays:  n.LicenseExpiryDays,
		WarrantyExpiryDays: n.WarrantyExpiryDays,
		TrailingWindowDays: n.TrailingWindowDays,
		DefaultRecipient:   n.DefaultRecipient,
	})
	svc := service.NewNotificationService(a.store, a.cache(), rules, a.logger.Named("notifications"))
	svc.SetConcurrency(n.Concurrency)
	return svc
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs and the notification scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if migrate {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create missing tables before serving")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := a.logger
	lifecycle := service.NewLifecycleService(a.store, a.cfg.Policy(), logger.Named("lifecycle"))
	notifications := a.notificationService()
	logger.Info("license capacity policy", zap.String("policy", string(lifecycle.Policy())))

	grpcServer := grpc.NewServer()
	handler.RegisterLifecycleServer(grpcServer, handler.NewGRPCHandler(lifecycle, notifications, logger.Named("grpc")))
	lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           handler.NewHTTPHandler(lifecycle, notifications, logger.Named("http")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(3)
	go func() {
		defer wg.Done()
		logger.Info("gRPC server listening", zap.String("addr", a.cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("HTTP server listening", zap.String("addr", a.cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		n := a.cfg.Notifications
		service.NewScheduler(notifications, n.Every(), n.RunOnStart, logger.Named("scheduler")).Run(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errc:
		logger.Error("server failed, shutting down", zap.Error(serveErr))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.Shutdown())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	wg.Wait()
	logger.Info("scheduler stopped")
	return serveErr
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run all notification checks once and print the counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			counts, err := a.notificationService().RunAllChecks(cmd.Context())
			if counts != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				enc.Encode(counts)
			}
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("schema up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, locations, categories and EOS dates from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadSeedFile(file)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.SeedMasterData(cmd.Context(), data); err != nil {
				return err
			}
			a.logger.Info("master data loaded",
				zap.Int("users", len(data.Users)),
				zap.Int("locations", len(data.Locations)),
				zap.Int("categories", len(data.Categories)),
				zap.Int("eos", len(data.EOS)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed data file")
	return cmd
}
