package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/novinai/novin-bridge/bridge"
	"github.com/novinai/novin-bridge/engine"
	"github.com/novinai/novin-bridge/internal/config"
	"github.com/novinai/novin-bridge/internal/logging"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML config file (optional)")
		engineName  = flag.String("engine", "", "Engine to embed ("+strings.Join(engine.Names(), ", ")+")")
		home        = flag.String("home", "", "Interpreter home directory")
		path        = flag.String("path", "", "Colon-separated module search path")
		clientID    = flag.String("client", "", "Client identifier passed to process_request")
		brandConfig = flag.String("brand", "", "Brand config JSON object for the constructor")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	overrides := map[*string]string{
		&cfg.Engine:      *engineName,
		&cfg.Home:        *home,
		&cfg.Path:        *path,
		&cfg.ClientID:    *clientID,
		&cfg.BrandConfig: *brandConfig,
	}
	for dst, v := range overrides {
		if v != "" {
			*dst = v
		}
	}

	args := flag.Args()
	if !*interactive && len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *interactive, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: novinbridge [flags] init [brand-config-json]")
	fmt.Fprintln(os.Stderr, "       novinbridge [flags] process <request-json | @file | ->")
	fmt.Fprintln(os.Stderr, "       novinbridge [flags] batch <file>...")
	fmt.Fprintln(os.Stderr, "       novinbridge [flags] -i  (interactive mode)")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func run(ctx context.Context, cfg *config.Config, interactive bool, args []string) error {
	log, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	interp, err := engine.New(cfg.EngineConfig())
	if err != nil {
		return err
	}

	var diag io.Writer = os.Stderr
	var tuiDiag *diagnostics
	if interactive {
		tuiDiag = &diagnostics{}
		diag = tuiDiag
	}

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithDiagnostics(diag),
		bridge.WithMaxSearchPaths(cfg.MaxSearchPaths),
		bridge.WithMaxResponseBytes(cfg.MaxResponseBytes),
	}
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		metrics, err := bridge.NewMetrics(
			bridge.WithRegistry(registry),
			bridge.WithMetricsNamespace(cfg.Metrics.Namespace),
		)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, bridge.WithMetrics(metrics))
		if cfg.Metrics.Listen != "" {
			shutdown := serveMetrics(cfg.Metrics.Listen, registry, log)
			defer shutdown()
		}
	}

	b := bridge.New(interp, opts...)
	if err := b.Initialize(ctx, cfg.Home, cfg.Path); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := b.Finalize(context.Background()); err != nil {
			log.Warn("finalize failed", zap.Error(err))
		}
	}()

	if interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("interactive mode requires a terminal")
		}
		return runInteractive(ctx, b, cfg, tuiDiag)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "init":
		brand := cfg.BrandConfig
		if len(rest) > 0 {
			brand = rest[0]
		}
		if err := b.Prepare(ctx, brand); err != nil {
			return err
		}
		st := b.Status()
		fmt.Printf("engine=%s state=%s instance=%s\n", st.Engine, st.State, st.Instance)
		return nil

	case "process":
		if len(rest) != 1 {
			return errors.New("process takes exactly one request")
		}
		payload, err := readPayload(rest[0])
		if err != nil {
			return err
		}
		out, err := process(ctx, b, cfg, payload)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	case "batch":
		if len(rest) == 0 {
			return errors.New("batch needs at least one file")
		}
		return batch(ctx, b, cfg, rest)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// readPayload accepts an inline request, @file or - for stdin.
func readPayload(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	default:
		return arg, nil
	}
}

func process(ctx context.Context, b *bridge.Bridge, cfg *config.Config, payload string) (string, error) {
	resp, err := b.ProcessRequest(ctx, bridge.Request{
		Payload:     payload,
		ClientID:    cfg.ClientID,
		BrandConfig: cfg.BrandConfig,
	})
	if err != nil {
		return "", err
	}
	defer bridge.FreeString(resp)
	return resp.String(), nil
}

// batch sends every file as one request. Requests are issued concurrently
// and serialized by the bridge; results print in argument order.
func batch(ctx context.Context, b *bridge.Bridge, cfg *config.Config, files []string) error {
	results := make([]string, len(files))
	failures := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			data, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", f, err)
			}
			results[i], failures[i] = process(gctx, b, cfg, string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, f := range files {
		if failures[i] != nil {
			failed++
			fmt.Printf("%s\terror\t%v\n", f, failures[i])
			continue
		}
		fmt.Printf("%s\tok\t%s\n", f, results[i])
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(files))
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
