package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/salehzaid/slamaty-sub000/internal/core"
)

type serveFlags struct {
	addr     string
	interval time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run escalation sweeps on an interval and expose ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			addr := rt.cfg.Serve.Addr
			if flags.addr != "" {
				addr = flags.addr
			}
			interval := rt.cfg.Serve.SweepInterval
			if flags.interval > 0 {
				interval = flags.interval
			}
			return serve(cmd.Context(), rt, addr, interval)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address for ops endpoints (overrides SLAMATY_SERVE_ADDR)")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Sweep interval (overrides SLAMATY_SWEEP_INTERVAL)")
	return cmd
}

// sweeper runs sweeps and remembers the last report for /healthz.
type sweeper struct {
	service *core.Service

	mu   sync.Mutex
	last *core.SweepReport
}

func (s *sweeper) run(ctx context.Context) core.SweepReport {
	report := s.service.RunEscalationSweep(ctx)
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report
}

func (s *sweeper) loop(ctx context.Context, interval time.Duration) {
	s.run(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *sweeper) lastReport() *core.SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func serve(ctx context.Context, rt *runtime, addr string, interval time.Duration) error {
	sw := &sweeper{service: rt.service}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newOpsRouter(rt.registry, sw, rt.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.loop(loopCtx, interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("ops server listening", "addr", addr, "sweep_interval", interval)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		err = srv.Shutdown(shutdownCtx)
		stop()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	rt.logger.Info("ops server stopped")
	return nil
}

type healthResponse struct {
	Status    string        `json:"status"`
	LastSweep *sweepSummary `json:"last_sweep,omitempty"`
}

func newOpsRouter(reg *prometheus.Registry, sw *sweeper, logger core.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			logger.Debug("request", "method", req.Method, "path", req.URL.Path, "dur", time.Since(start))
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		if last := sw.lastReport(); last != nil {
			summary := summarize(*last)
			resp.LastSweep = &summary
			if !last.OK() {
				resp.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Post("/sweep", func(w http.ResponseWriter, req *http.Request) {
		summary := summarize(sw.run(req.Context()))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	return r
}
