package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salehzaid/slamaty-sub000/internal/config"
	"github.com/salehzaid/slamaty-sub000/internal/core"
	"github.com/salehzaid/slamaty-sub000/internal/evidence"
	"github.com/salehzaid/slamaty-sub000/internal/logging"
)

// runtime is a wired service plus the handles the ops endpoints expose.
type runtime struct {
	cfg      *config.Config
	service  *core.Service
	registry *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
	logger   core.Logger
	store    core.PersistentStore
}

func (a *app) bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, codeError(exitConfig, "load config: %s", err)
	}
	return newRuntime(ctx, cfg, a.stderr)
}

func newRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	logger, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, codeError(exitConfig, "configure logging: %s", err)
	}
	registry := prometheus.NewRegistry()
	promRecorder, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	expvarRecorder := core.NewExpvarMetricsRecorder("")

	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, codeError(exitConfig, "open store: %s", err)
	}
	evidenceStore, err := evidence.Open(ctx, cfg.Evidence)
	if err != nil {
		_ = core.CloseStore(store)
		return nil, codeError(exitConfig, "open evidence store: %s", err)
	}

	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithNotifier(core.NewLogNotifier(logger)),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{expvarRecorder, promRecorder}),
		core.WithEvidenceStore(evidenceStore),
		core.WithPolicy(cfg.Policy),
	)
	logger.Debug("runtime ready", "storage", string(cfg.Storage.Driver), "evidence", string(evidenceStore.Driver()))
	return &runtime{
		cfg:      cfg,
		service:  svc,
		registry: registry,
		expvar:   expvarRecorder,
		logger:   logger,
		store:    store,
	}, nil
}

func (r *runtime) Close() error {
	if err := core.CloseStore(r.store); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
