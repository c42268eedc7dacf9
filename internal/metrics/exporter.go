package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exposes metrics via HTTP
type Exporter struct {
	addr      string
	collector *Collector
	server    *http.Server
	stopCh    chan struct{}
}

// NewExporter creates a metrics exporter fed by source.
func NewExporter(addr string, source NodeSource) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Exporter{
		addr:      addr,
		collector: NewCollector(source),
		stopCh:    make(chan struct{}),
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the exporter
func (e *Exporter) Start() error {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.collector.Collect()
			}
		}
	}()

	return e.server.ListenAndServe()
}

// Stop stops the exporter
func (e *Exporter) Stop() error {
	close(e.stopCh)
	return e.server.Close()
}
