package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schedview/internal/auth"
	"schedview/internal/capture"
	"schedview/internal/config"
	"schedview/internal/eventsapi"
	appLog "schedview/internal/log"
	"schedview/internal/probe"
	"schedview/internal/web"
)

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath   string
	listen       string
	capturePath  string
	captureQuery string
	debug        bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	defer appLog.Sync()

	appLog.Info("schedview starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"api_base_url", conf.APIBaseURL,
		"timezone", conf.Timezone,
		"id_min", conf.IDRange.Min,
		"id_max", conf.IDRange.Max,
		"probe_cron", conf.ProbeCron,
		"redis", conf.Redis.URL != "",
		"capture", flags.capturePath,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("schedview exited with error", err)
		os.Exit(1)
	}
	appLog.Info("schedview exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client := eventsapi.NewClient(conf.APIBaseURL,
		eventsapi.IDRange{Min: conf.IDRange.Min, Max: conf.IDRange.Max},
		eventsapi.WithTimeout(time.Duration(conf.FetchTimeoutSeconds)*time.Second),
		eventsapi.WithMetrics(eventsapi.NewMetrics(reg)),
	)

	store, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer store.Close()

	p := probe.New(client, time.Duration(conf.FetchTimeoutSeconds)*time.Second, reg)
	if flags.capturePath == "" {
		if err := p.Start(ctx, conf.ProbeCron); err != nil {
			return err
		}
		defer p.Stop()
	}

	srv, err := web.NewServer(web.Deps{
		Config:        conf,
		Events:        client,
		Store:         store,
		Scopes:        auth.NewScopes(conf.Auth.ScopeSecret, conf.SecureCookie),
		Authenticator: auth.NewAuthenticator(conf.Auth.Username, conf.Auth.Password, conf.Auth.PasswordBcrypt),
		Health:        p,
		Gatherer:      reg,
	})
	if err != nil {
		return err
	}

	if flags.capturePath != "" {
		return runCapture(ctx, srv, conf, flags)
	}
	return srv.StartServer(ctx)
}

// openStore picks the Redis store when configured, else the in-memory one.
func openStore(ctx context.Context, conf *config.Config) (auth.Store, error) {
	if conf.Redis.URL == "" {
		appLog.Info("auth flag store: memory")
		return auth.NewMemoryStore(conf.Auth.StorageKey), nil
	}
	s, err := auth.NewRedisStore(ctx, conf.Redis.URL, conf.Auth.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open redis store: %w", err)
	}
	appLog.Info("auth flag store: redis")
	return s, nil
}

// runCapture serves the pages just long enough to screenshot the listing.
func runCapture(ctx context.Context, srv *web.Server, conf *config.Config, flags flagConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartServer(ctx) }()

	base := "http://" + conf.Listen
	if err := waitHealthy(ctx, base+"/health", 10*time.Second); err != nil {
		return err
	}

	appLog.Info("capturing listing", "base_url", base, "query", flags.captureQuery, "output", flags.capturePath)
	if err := capture.CaptureListingPNG(ctx, capture.CaptureOptions{
		BaseURL:    base,
		Query:      flags.captureQuery,
		OutputPath: flags.capturePath,
	}); err != nil {
		return err
	}
	appLog.Info("capture written", "output", flags.capturePath)

	cancel()
	return <-errCh
}

func waitHealthy(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return errors.New("server did not become healthy")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.capturePath, "capture", "", "Render the listing to this PNG path and exit")
	flag.StringVar(&cfg.captureQuery, "capture-query", "", "Search text applied to the captured listing")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
