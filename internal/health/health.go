// Package health exposes the gRPC health protocol for the bridge, reporting
// NOT_SERVING while a dependency probe fails.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name clients pass in HealthCheckRequest.
const Service = "bridge"

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

type Monitor struct {
	srv      *health.Server
	probes   map[string]Probe
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewMonitor(probes map[string]Probe, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		srv:      health.NewServer(),
		probes:   probes,
		interval: interval,
		timeout:  interval / 2,
		log:      log,
	}
	m.srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	m.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Server returns the health service for registration on a gRPC server.
func (m *Monitor) Server() healthpb.HealthServer { return m.srv }

// CheckOnce runs every probe and publishes the combined status.
func (m *Monitor) CheckOnce(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range m.probes {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := probe(pctx)
		cancel()
		if err != nil {
			m.log.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	m.srv.SetServingStatus(Service, status)
	m.srv.SetServingStatus("", status)
	return status
}

// Run probes on every tick until ctx is done, then marks the service down.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckOnce(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.srv.Shutdown()
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// Serve registers the health service on a new gRPC server listening on addr.
// The server stops when ctx is done.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, m.srv)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	m.log.Info("gRPC health server starting", zap.String("addr", addr))
	return gs.Serve(lis)
}
