package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name under which the sync engine reports its status.
const ServiceName = "chatsync"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// HealthServer exposes the standard gRPC health protocol for orchestrators.
// The status follows the probe, checked every interval.
type HealthServer struct {
	addr     string
	probe    Probe
	interval time.Duration
	log      *slog.Logger
	health   *health.Server
}

func NewHealthServer(log *slog.Logger, addr string, probe Probe, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthServer{
		addr:     addr,
		probe:    probe,
		interval: interval,
		log:      log,
		health:   health.NewServer(),
	}
}

func (h *HealthServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	return h.Serve(ctx, listener)
}

// Serve blocks until ctx is canceled or the listener fails.
func (h *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, h.health)
	h.check(ctx)

	errChan := make(chan error, 1)
	go func() {
		h.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := s.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			s.GracefulStop()
			return nil
		case err := <-errChan:
			return err
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HealthServer) check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if h.probe != nil {
		if err := h.probe(ctx); err != nil {
			h.log.Warn("Health probe failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
