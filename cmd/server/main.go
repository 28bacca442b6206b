package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/navmetrics-backend/internal/adapter/grpc"
	"github.com/simaogato/navmetrics-backend/internal/app"
	"github.com/simaogato/navmetrics-backend/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("NAVMETRICS_CONFIG"), "Path to navmetrics.yaml (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// 2. Database, repositories and services
	a, err := app.New(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()
	logger := a.Logger

	if err := a.Migrate(ctx); err != nil {
		return err
	}

	// 3. gRPC server with logging and AuthInterceptor
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(logger.With("component", "grpc")),
			grpcadapter.AuthInterceptor(cfg.Server.APIToken),
		),
	)
	grpcadapter.Register(grpcServer, grpcadapter.NewServer(a.Ingestion, a.Metrics, cfg.Ingestion.Delay))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcadapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.Server.Addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpclib.ErrServerStopped) {
			return fmt.Errorf("failed to serve gRPC server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		healthServer.Shutdown()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop", "timeout", cfg.Server.ShutdownTimeout)
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}
