package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"hawser/pkg/conn"
	"hawser/pkg/connector"
	"hawser/pkg/metrics"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug server",
		Long: `Runs an HTTP server exposing pool statistics, Prometheus metrics and a
dial probe endpoint backed by a shared connection pool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			registry := metrics.NewRegistry()
			tcp, err := buildTCPConnector(cfg, logger, registry)
			if err != nil {
				return err
			}
			defer func() {
				if err := tcp.Close(); err != nil {
					logger.Error("Failed to close connector", err)
				}
			}()

			router := mux.NewRouter()
			router.Handle("/metrics", promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{}))
			router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			}).Methods(http.MethodGet)
			router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(tcp.Stats())
			}).Methods(http.MethodGet)
			router.HandleFunc("/dial", probeHandler(tcp)).Methods(http.MethodGet)

			server := &http.Server{
				Addr:              cfg.Server.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.WithField("addr", cfg.Server.ListenAddr).Info("Debug server listening")
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cfg.AddServeFlagsToCommand(cmd)
	return cmd
}

// probeHandler dials the URL in the query string through the shared pool and
// reports the outcome.
func probeHandler(tcp *connector.TCPConnector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawURL := r.URL.Query().Get("url")
		if rawURL == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		target, err := connector.NewTarget(rawURL, connector.TargetOptions{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		handle, err := tcp.Acquire(r.Context(), target, nil, conn.Timeout{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		elapsed := time.Since(start)

		remote := ""
		if transport := handle.Transport(); transport != nil {
			remote = transport.RemoteAddr().String()
		}
		handle.Release()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"key":        target.ConnectionKey().String(),
			"remote":     remote,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
}
