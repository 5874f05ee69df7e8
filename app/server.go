// Package app assembles the list-users server and client from configuration.
package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/gops/agent"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"user-rpc/codec"
	"user-rpc/config"
	"user-rpc/logging"
	"user-rpc/metrics"
	"user-rpc/middleware"
	"user-rpc/registry"
	"user-rpc/server"
	"user-rpc/userservice"
)

// ServerApp is a listening list-users server plus its optional metrics endpoint.
type ServerApp struct {
	cfg      *config.Config
	logger   *zap.Logger
	server   *server.Server
	listener net.Listener
	registry registry.Registry
	etcd     *registry.EtcdRegistry

	metricsListener net.Listener
	metricsServer   *http.Server
}

// NewServerApp builds the service for mode and binds its listeners. Nothing
// is served until Run.
func NewServerApp(cfg *config.Config, mode userservice.Mode, ct codec.CodecType, logger *zap.Logger) (*ServerApp, error) {
	logger = logging.OrNop(logger)
	handler := userservice.NewHandler(
		userservice.NewSampleStore(clock.WallClock), clock.WallClock, logger.Named("userservice"))
	svc, err := userservice.BuildServiceHandler(mode, cfg.Server.Service, ct, handler)
	if err != nil {
		return nil, errors.Trace(err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(promRegistry)

	svr := server.NewServer(
		server.WithLogger(logger.Named("server")),
		server.WithRegistrationTTL(cfg.Registry.TTL),
	)
	if err := svr.Register(svc); err != nil {
		return nil, errors.Trace(err)
	}
	svr.Use(middleware.LoggingMiddleware(logger.Named("rpc")))
	svr.Use(middleware.MetricsMiddleware(m))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.RequestTimeout > 0 {
		svr.Use(middleware.TimeoutMiddleware(cfg.Server.RequestTimeout))
	}

	a := &ServerApp{cfg: cfg, logger: logger, server: svr}

	if len(cfg.Registry.Endpoints) > 0 {
		a.etcd, err = registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return nil, errors.Annotate(err, "connecting to registry")
		}
		a.registry = a.etcd
	}

	a.listener, err = net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		a.close()
		return nil, errors.Annotatef(err, "listening on %s", cfg.Server.Listen)
	}

	if cfg.Metrics.Addr != "" {
		a.metricsListener, err = net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			a.close()
			return nil, errors.Annotatef(err, "listening on %s", cfg.Metrics.Addr)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return a, nil
}

// Addr is the RPC listener's address.
func (a *ServerApp) Addr() net.Addr {
	return a.listener.Addr()
}

// MetricsAddr is the metrics listener's address, or nil when metrics are off.
func (a *ServerApp) MetricsAddr() net.Addr {
	if a.metricsListener == nil {
		return nil
	}
	return a.metricsListener.Addr()
}

// Methods lists the served "service/method" pairs.
func (a *ServerApp) Methods() []string {
	return a.server.Methods()
}

// Run serves until ctx is cancelled, then shuts down within the configured timeout.
func (a *ServerApp) Run(ctx context.Context) error {
	defer a.close()

	if a.cfg.Server.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			a.logger.Warn("gops agent not started", zap.Error(err))
		} else {
			defer agent.Close()
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("serving",
			zap.Stringer("addr", a.listener.Addr()),
			zap.Strings("methods", a.server.Methods()),
			zap.Bool("registry", a.registry != nil),
		)
		return a.server.Serve(a.listener, a.cfg.Server.Advertise, a.registry)
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			a.logger.Info("serving metrics", zap.Stringer("addr", a.metricsListener.Addr()))
			if err := a.metricsServer.Serve(a.metricsListener); err != nil && err != http.ErrServerClosed {
				return errors.Annotate(err, "metrics server")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.Server.ShutdownTimeout))

		if a.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown", zap.Error(err))
			}
		}
		return a.server.Shutdown(a.cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}

func (a *ServerApp) close() {
	if a.listener != nil {
		a.listener.Close()
	}
	if a.metricsListener != nil {
		a.metricsListener.Close()
	}
	if a.etcd != nil {
		if err := a.etcd.Close(); err != nil {
			a.logger.Warn("closing registry", zap.Error(err))
		}
	}
}

// RunServer builds the server for mode and serves it until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config, mode userservice.Mode, ct codec.CodecType, logger *zap.Logger) error {
	a, err := NewServerApp(cfg, mode, ct, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
