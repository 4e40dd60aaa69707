package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/novinai/novin-bridge/bridge"
	"github.com/novinai/novin-bridge/engine"
	"github.com/novinai/novin-bridge/errors"
	"github.com/novinai/novin-bridge/internal/config"
	"github.com/novinai/novin-bridge/internal/logging"
)

// host is the process-wide bridge behind the C entry points.
type host struct {
	bridge *bridge.Bridge
	cfg    *config.Config
	log    *zap.Logger
}

var (
	defaultHost    *host
	defaultHostErr error
	defaultOnce    sync.Once

	// loadConfig is replaced in tests.
	loadConfig = func() (*config.Config, error) { return config.Load("") }
)

func getHost() (*host, error) {
	defaultOnce.Do(func() {
		defaultHost, defaultHostErr = newHost()
	})
	return defaultHost, defaultHostErr
}

func newHost() (*host, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, _, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, err
	}

	interp, err := engine.New(cfg.EngineConfig())
	if err != nil {
		return nil, err
	}

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithDiagnostics(os.Stderr),
		bridge.WithMaxSearchPaths(cfg.MaxSearchPaths),
		bridge.WithMaxResponseBytes(cfg.MaxResponseBytes),
	}
	if cfg.Metrics.Enabled {
		metrics, err := bridge.NewMetrics(bridge.WithMetricsNamespace(cfg.Metrics.Namespace))
		if err != nil {
			return nil, err
		}
		opts = append(opts, bridge.WithMetrics(metrics))
	}

	return &host{
		bridge: bridge.New(interp, opts...),
		cfg:    cfg,
		log:    log,
	}, nil
}

func initialize(home, path string) bool {
	h, err := getHost()
	if err != nil {
		fmt.Fprintf(os.Stderr, "novin bridge: %v\n", err)
		return false
	}
	if err := h.bridge.Initialize(context.Background(), home, path); err != nil {
		h.log.Error("initialize failed", zap.Error(err))
		return false
	}
	return true
}

// processRequest forwards one call to the default bridge. A nil clientID
// selects the configured client id.
func processRequest(request string, clientID *string, brandConfig string) (string, error) {
	h, err := getHost()
	if err != nil {
		return "", errors.NotInitialized(errors.PhaseCall)
	}

	req := bridge.Request{
		Payload:     request,
		ClientID:    h.cfg.ClientID,
		BrandConfig: brandConfig,
	}
	if clientID != nil {
		req.ClientID = *clientID
		req.ExplicitClientID = true
	}
	if req.BrandConfig == "" {
		req.BrandConfig = h.cfg.BrandConfig
	}

	resp, err := h.bridge.ProcessRequest(context.Background(), req)
	if err != nil {
		return "", err
	}
	defer resp.Release()
	return resp.String(), nil
}

func finalize() {
	h, err := getHost()
	if err != nil {
		return
	}
	if err := h.bridge.Finalize(context.Background()); err != nil {
		h.log.Warn("finalize failed", zap.Error(err))
	}
	_ = h.log.Sync()
}
