package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/federation/bridge"
	"github.com/wippyai/federation/config"
	"github.com/wippyai/federation/engine"
	"github.com/wippyai/federation/jsengine"
	"github.com/wippyai/federation/loader"
	"github.com/wippyai/federation/metrics"
	"github.com/wippyai/federation/resolver"
)

type globalFlags struct {
	config      string
	remotes     string
	logLevel    string
	metricsAddr string
	strict      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "fedrun",
		Short:         "Load, inspect and build federated module containers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "config file (toml, yaml or json)")
	pf.StringVar(&g.remotes, "remotes", "", "TOML table of remote containers")
	pf.StringVar(&g.logLevel, "log-level", "", "log level override")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.BoolVar(&g.strict, "strict", false, "fail loads on singleton version mismatch")

	root.AddCommand(
		newImportCmd(g),
		newBrowseCmd(g),
		newInspectCmd(),
		newPackCmd(),
		newScaffoldCmd(),
	)
	return root
}

// session is a loader with everything it needs torn down afterwards.
type session struct {
	loader *loader.Loader
	logger *zap.Logger
	server *http.Server
}

// open builds a loader from the configuration and flags. Extra resolvers
// are consulted before the configured remotes.
func (g *globalFlags) open(ctx context.Context, extra ...resolver.Func) (*session, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.metricsAddr != "" {
		cfg.Metrics.Addr = g.metricsAddr
	}
	if g.strict {
		cfg.Shared.Strict = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	engine.SetLogger(logger.Named("wasm"))
	jsengine.SetLogger(logger.Named("script"))

	rt := &session{logger: logger}

	var m *metrics.Collector
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	opts, err := cfg.LoaderOptions(logger.Named("loader"), m)
	if err != nil {
		return nil, err
	}

	wasm, err := engine.NewWazeroEngine(ctx)
	if err != nil {
		return nil, err
	}
	rt.loader = loader.New(&bridge.Mux{Wasm: wasm, Script: jsengine.New()}, opts...)

	for _, fn := range extra {
		rt.loader.AddResolver(fn)
	}
	if g.remotes != "" {
		t, err := resolver.LoadTable(g.remotes)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.loader.AddResolver(t.Resolver())
	}
	rt.loader.AddResolver(cfg.Resolver())
	return rt, nil
}

func (rt *session) Close(ctx context.Context) error {
	var errs []error
	if rt.loader != nil {
		errs = append(errs, rt.loader.Close(ctx))
	}
	if rt.server != nil {
		errs = append(errs, rt.server.Shutdown(ctx))
	}
	_ = rt.logger.Sync()
	return stderrors.Join(errs...)
}

// fixed resolves exactly one container id to url.
func fixed(id, url string) resolver.Func {
	return func(name string, _ resolver.Caller) *resolver.Descriptor {
		if name != id {
			return nil
		}
		return &resolver.Descriptor{ID: id, URL: url}
	}
}

func resolversFor(id, url string) []resolver.Func {
	if url == "" {
		return nil
	}
	return []resolver.Func{fixed(id, url)}
}
