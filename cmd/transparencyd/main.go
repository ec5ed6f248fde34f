// transparencyd - key transparency self-check daemon
//
// transparencyd keeps cryptographic proof that the local account's published
// identity key matches what the transparency log asserts. It runs periodic
// self-checks against a transparency frontend, persists verification state
// in SQLite, and escalates repeated failures for the host to surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transparencyd/internal/account"
	"transparencyd/internal/bridge"
	"transparencyd/internal/config"
	"transparencyd/internal/cron"
	"transparencyd/internal/health"
	"transparencyd/internal/logging"
	"transparencyd/internal/manager"
	"transparencyd/internal/metrics"
	"transparencyd/internal/store"
	"transparencyd/internal/wire"
)

// Version information (set at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (toml or yaml)")
	checkNow := flag.Bool("check-now", false, "run one self-check immediately on startup")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("transparencyd %s (%s)\n", version, commit)
		return
	}

	if err := run(*configPath, *checkNow); err != nil {
		fmt.Fprintf(os.Stderr, "transparencyd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, checkNow bool) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logging.SetDefault(log)

	if cfg.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url must be configured")
	}
	if cfg.Account.Path == "" {
		return fmt.Errorf("account.path must be configured")
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	acct, err := account.LoadFile(cfg.Account.Path, log.WithComponent("account"))
	if err != nil {
		return err
	}

	client := wire.NewHTTPClient(wire.HTTPConfig{
		BaseURL:   cfg.Service.BaseURL,
		Timeout:   cfg.Service.Timeout.Std(),
		UserAgent: "transparencyd/" + version,
	})

	em := metrics.NewEngineMetrics()

	mgr, err := manager.New(manager.Deps{
		Store: st,
		Connection: wire.ProviderFunc(func(ctx context.Context) (wire.Client, error) {
			return client, nil
		}),
		LogStore:        bridge.New(st),
		Keys:            acct,
		Recipients:      acct,
		Usernames:       acct,
		Discoverability: acct,
		Manifest:        acct,
		Device:          acct,
		Metrics:         em,
		Log:             log.WithComponent("kt-manager"),
	}, manager.Options{
		CheckInterval:            cfg.Check.Interval.Std(),
		BaseRetryDelay:           cfg.Check.BaseRetryDelay.Std(),
		MaxRetryDelay:            cfg.Check.MaxRetryDelay.Std(),
		JitterFactor:             cfg.Check.JitterFactor,
		ConservativeFailureReset: cfg.Check.ConservativeFailureReset,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure checks are opted in for a standalone daemon; the host-app
	// embedding keeps its own user-facing toggle.
	if err := st.Write(ctx, func(tx *store.WriteTx) error {
		return tx.SetEnabled(true)
	}); err != nil {
		return err
	}

	// Hot-reload the log level on config edits.
	loader.OnChange(func(c *config.Config) {
		if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
			log.SetLevel(level)
			log.Info("log level updated", "level", c.Logging.Level)
		}
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "err", err)
	}
	defer loader.Close()

	if cfg.Health.Enabled {
		startHealthEndpoint(ctx, cfg, st, mgr, em, log)
	}

	if checkNow {
		if err := mgr.ForceSelfCheck(ctx); err != nil {
			log.Error("startup self-check failed", "err", err)
		}
	}

	runner := cron.NewRunner(cfg.Check.Tick.Std(), log.WithComponent("cron"))
	mgr.RegisterSelfCheck(runner)

	log.Info("transparencyd started",
		"version", version,
		"db", cfg.Storage.DatabasePath,
		"service", cfg.Service.BaseURL,
		"interval", cfg.Check.Interval.Std())
	runner.Start(ctx)
	log.Info("transparencyd stopping")
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.File,
		Component: "transparencyd",
	})
}

func startHealthEndpoint(ctx context.Context, cfg *config.Config, st *store.Store, mgr *manager.Manager, em *metrics.EngineMetrics, log *logging.Logger) {
	checker := health.NewChecker()

	checker.Register("store", func(ctx context.Context) health.CheckResult {
		err := st.Read(ctx, func(tx *store.ReadTx) error {
			_, err := tx.IsEnabled()
			return err
		})
		res := health.CheckResult{Status: health.StatusHealthy, LastChecked: time.Now()}
		if err != nil {
			res.Status = health.StatusUnhealthy
			res.Message = err.Error()
		}
		return res
	})

	checker.Register("self-check", func(ctx context.Context) health.CheckResult {
		res := health.CheckResult{Status: health.StatusHealthy, LastChecked: time.Now()}
		err := st.Read(ctx, func(tx *store.ReadTx) error {
			warn, err := mgr.ShouldWarnSelfCheckFailed(tx)
			if err != nil {
				return err
			}
			if warn {
				res.Status = health.StatusDegraded
				res.Message = "repeated self-check failures"
			}
			return nil
		})
		if err != nil {
			res.Status = health.StatusUnhealthy
			res.Message = err.Error()
		}
		return res
	})

	checker.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/", checker.Handler())
	mux.Handle("/metrics", em.Registry.Handler())

	srv := &http.Server{Addr: cfg.Health.Listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("health endpoint failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
}
