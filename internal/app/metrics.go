package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/relaybot/core/logger"
)

// metricsServer exposes /metrics and /healthz. An empty listen address
// disables it.
type metricsServer struct {
	listen    string
	srv       *http.Server
	boundAddr string
}

func newMetricsServer(listen string) *metricsServer {
	return &metricsServer{listen: listen}
}

// Start binds the listener synchronously so a bad address fails startup.
func (m *metricsServer) Start(ctx context.Context) error {
	if m == nil || m.listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", m.listen)
	if err != nil {
		return err
	}
	m.boundAddr = ln.Addr().String()
	m.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("metrics server stopped",
				slog.String("component", "metrics"),
				slog.String("event", "serve"),
				slog.String("err", err.Error()),
			)
		}
	}()
	logger.L.LogAttrs(ctx, slog.LevelInfo, "metrics listening",
		slog.String("component", "metrics"),
		slog.String("event", "listen"),
		slog.String("addr", m.boundAddr),
	)
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (m *metricsServer) Shutdown(ctx context.Context) error {
	if m == nil || m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

// Addr returns the bound address, empty before Start.
func (m *metricsServer) Addr() string {
	if m == nil {
		return ""
	}
	return m.boundAddr
}
