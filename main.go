package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/auth"
	"github.com/example/kyc-worker/internal/config"
	"github.com/example/kyc-worker/internal/grpcclient"
	"github.com/example/kyc-worker/internal/handlers"
	"github.com/example/kyc-worker/internal/health"
	"github.com/example/kyc-worker/internal/imageprocessor"
	"github.com/example/kyc-worker/internal/kycclient"
	"github.com/example/kyc-worker/internal/logging"
	"github.com/example/kyc-worker/internal/media"
	"github.com/example/kyc-worker/internal/metrics"
	"github.com/example/kyc-worker/internal/queue"
	"github.com/example/kyc-worker/internal/repository"
	"github.com/example/kyc-worker/internal/usecase"
	"github.com/example/kyc-worker/internal/vision"
)

const (
	httpShutdownTimeout = 15 * time.Second
	healthCheckInterval = 10 * time.Second
	// enqueueSlack covers persistence and delivery on top of the engine timeout.
	enqueueSlack = 30 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "kyc-worker",
		Short:        "Liveness and face-match assessment of KYC sessions",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newAssessCommand(), newHealthcheckCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the processing queue and serve the HTTP and gRPC health APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runServe(cfg, logger)
		},
	}
}

func newHealthcheckCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero unless the worker reports SERVING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			probe, err := grpcclient.DialHealth(ctx, addr, zap.NewNop())
			if err != nil {
				return err
			}
			defer probe.Close()
			if err := probe.Check(ctx, ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC health address")
	return cmd
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database.DSN, logger)
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access db handle: %w", err)
	}
	defer sqlDB.Close()

	repo := repository.NewAssessmentRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis, logger)
	defer redisClient.Close()

	engine, closeModels := buildEngine(cfg, logger)
	defer closeModels()

	recorder := metrics.NewRecorder()
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
	enqueuer := queue.NewEnqueuer(redisOpt, cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.AssessmentTimeout+enqueueSlack)
	defer enqueuer.Close()

	uc := usecase.NewAssessmentUseCase(
		repo,
		usecase.NewRedisCache(redisClient),
		engine,
		media.NewResolver(cfg.MediaRoot),
		kycclient.New(cfg.KYC.BaseURL, cfg.KYC.WorkerToken, nil, logger),
		logger,
		usecase.WithEnqueuer(enqueuer),
		usecase.WithMetrics(recorder),
		usecase.WithAssessmentTimeout(cfg.AssessmentTimeout),
	)

	queueServer := queue.NewServer(redisOpt, cfg.Queue.Name, queue.NewHandler(uc, logger), logger)
	if err := queueServer.Start(); err != nil {
		return fmt.Errorf("start queue consumer: %w", err)
	}
	defer queueServer.Shutdown()
	logger.Info("consuming queue", zap.String("queue", cfg.Queue.Name))

	healthServer := health.NewServer(logger)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := healthServer.Serve(grpcListener); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	defer healthServer.Stop()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go healthServer.Monitor(monitorCtx, healthCheckInterval,
		health.Check{Name: "database", Probe: sqlDB.PingContext},
		health.Check{Name: "redis", Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		health.Check{Name: "queue", Probe: func(context.Context) error { return queueServer.Ping() }},
	)

	r := gin.Default()
	handlers.RegisterRoutes(r, uc, handlers.Options{
		Auth:           auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		Metrics:        recorder.Handler(),
		EnqueueLimiter: handlers.NewOperatorLimiter(cfg.API.EnqueueRate, cfg.API.EnqueueBurst),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("KYC worker listening", zap.String("http_addr", cfg.HTTPAddr), zap.String("grpc_addr", cfg.GRPCAddr))
	if err := serveHTTPServer(server, httpShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

// buildEngine creates the long-lived model handles named in cfg. A configured
// model file that does not exist disables that stage.
func buildEngine(cfg *config.Config, logger *zap.Logger) (*assessment.Engine, func()) {
	opts := []assessment.Option{assessment.WithLogger(logger)}
	var models []*vision.ONNXModel

	switch {
	case config.ModelAvailable(cfg.Liveness.ModelPath):
		model := vision.NewONNXModel(vision.ModelConfig{
			Name:      "liveness",
			Path:      cfg.Liveness.ModelPath,
			InputName: cfg.Liveness.InputName,
			Width:     cfg.Liveness.InputWidth,
			Height:    cfg.Liveness.InputHeight,
			Norm: imageprocessor.Normalization{
				Mean: float32(cfg.Liveness.Mean),
				Std:  float32(cfg.Liveness.Std),
			},
		}, logger)
		models = append(models, model)
		opts = append(opts, assessment.WithLivenessModel(model, cfg.Liveness.OutputIndex))
	case cfg.Liveness.ModelPath != "":
		logger.Warn("liveness model not found, stage disabled", zap.String("path", cfg.Liveness.ModelPath))
	}

	switch {
	case config.ModelAvailable(cfg.Face.ModelPath):
		model := vision.NewONNXModel(vision.ModelConfig{
			Name:      "arcface",
			Path:      cfg.Face.ModelPath,
			InputName: cfg.Face.InputName,
			Width:     112,
			Height:    112,
			Norm:      imageprocessor.ArcFaceNormalization,
		}, logger)
		models = append(models, model)
		opts = append(opts, assessment.WithFaceModel(model))
	case cfg.Face.ModelPath != "":
		logger.Warn("face model not found, stage disabled", zap.String("path", cfg.Face.ModelPath))
	}

	closeModels := func() {
		for _, model := range models {
			if err := model.Close(); err != nil {
				logger.Warn("failed to close model", zap.Error(err))
			}
		}
	}
	return assessment.NewEngine(vision.NewDecoder(), opts...), closeModels
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	if signalCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signalCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-signalCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
