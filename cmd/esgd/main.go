package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/esg-compliance/internal/app"
	"github.com/joseph-ayodele/esg-compliance/internal/async"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/ingest"
	"github.com/joseph-ayodele/esg-compliance/internal/server"
)

func main() {
	// Setup structured logger that outputs messages with variables but no time/level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	queue := async.NewRunQueue(async.HandlerFunc(func(ctx context.Context, job async.Job) error {
		_, err := a.Runner.Run(ctx, job.RunID, job.Key)
		return err
	}), logger,
		async.WithWorkers(cfg.Workflow.Workers),
		async.WithQueueSize(cfg.Workflow.QueueSize),
		async.WithProcessTimeout(cfg.Workflow.RunTimeout+time.Minute),
		async.WithDepthGauge(a.Metrics.QueueDepth),
	)
	dispatcher := ingest.NewDispatcher(queue, a.Loader, a.Store, logger)

	if cfg.Storage.Watch {
		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Root:     a.Store.Root(),
			Bucket:   "local",
			Keys:     a.Store.Key,
			Debounce: cfg.Storage.Debounce,
		}, logger)
		if err != nil {
			logger.Error("failed to start watcher", "root", a.Store.Root(), "error", err)
			os.Exit(1)
		}
		go dispatcher.Consume(ctx, events, errs)
	}
	if cfg.Storage.InitialScan {
		go func() {
			if _, _, err := dispatcher.Rescan(ctx, "", false); err != nil {
				logger.Error("initial scan failed", "error", err)
			}
		}()
	}

	// Review is optional; keep the interface nil when it is off.
	var decider server.Decider
	if a.Review != nil {
		decider = a.Review
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr: cfg.Server.HTTPAddr,
			Handler: server.NewRouter(server.HTTPDeps{
				Events:   dispatcher,
				Status:   a.Status,
				Export:   a.Export,
				Review:   decider,
				Store:    a.Store,
				Metrics:  a.Metrics.Handler(),
				Recorder: a.Metrics,
				Ping: func(ctx context.Context) error {
					return a.DB.HealthCheck(ctx, 2*time.Second, logger)
				},
			}, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("esgd http listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(a.Metrics, logger)))
		grpcServer.RegisterService(&server.RunServiceDesc, server.NewRunService(a.Status, a.Export, decider, logger))

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(server.RunServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		logger.Info("esgd grpc listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("esgd shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	queue.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}
