package stats

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StartExporter registers a Collector sourced from snapshot against a fresh
// registry and serves it over HTTP at listenAddr until ctx is cancelled.
// Errors from the HTTP server after startup are logged, not returned, since
// by then the caller has moved on to its packet-processing loop.
func StartExporter(ctx context.Context, l *logrus.Logger, listenAddr string, snapshot func() Stats) error {
	if listenAddr == "" {
		return fmt.Errorf("stats: exporter listen address must not be empty")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(snapshot))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	l.Infof("stats: serving prometheus metrics on %s/metrics", listenAddr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.WithError(err).Error("stats: exporter stopped")
		}
	}()

	return nil
}
