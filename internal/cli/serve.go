package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"lecture-capture-service/internal/app"
	httpapi "lecture-capture-service/internal/http"
	"lecture-capture-service/internal/observability"
)

// HealthService is the gRPC health service name reported alongside "".
const HealthService = "lecture.capture.RecordingService"

// NewServeCmd builds the serve command.
func NewServeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app.New(cfg))
		},
	}
}

func serve(ctx context.Context, application *app.Application) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Shutdown()

	cfg := application.Cfg
	logger := application.Logger

	obs := observability.NewServer(":"+cfg.Service.MetricsPort, application.Ready)
	obs.Start()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(application.Metrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(application.Metrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve failed: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error().Err(err).Msg("Server failed")
	}

	logger.Info().Msg("Shutting down servers")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if sErr := httpServer.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn().Err(sErr).Msg("HTTP shutdown incomplete")
	}
	grpcServer.GracefulStop()
	if sErr := obs.Shutdown(shutdownCtx); sErr != nil {
		logger.Warn().Err(sErr).Msg("Observability shutdown incomplete")
	}
	return err
}
