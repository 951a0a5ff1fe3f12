package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/wilhg/persistor/examples/ledger"
	"github.com/wilhg/persistor/internal/config"
	"github.com/wilhg/persistor/internal/logging"
	"github.com/wilhg/persistor/pkg/eval"
	"github.com/wilhg/persistor/pkg/metrics"
	otto "github.com/wilhg/persistor/pkg/otel"
	"github.com/wilhg/persistor/pkg/runtime"
	"github.com/wilhg/persistor/pkg/store"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "persistor",
		Usage:   "persistent actor host",
		Version: fmt.Sprintf("%s (commit=%s, date=%s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"PERSISTOR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			replayCommand(),
			versionCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, c.App.ErrWriter)
	return cfg, logger, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "host ledger accounts over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides server.addr"},
			&cli.StringFlag{Name: "dsn", Usage: "store DSN, overrides store.dsn"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if v := c.String("addr"); v != "" {
				cfg.Server.Addr = v
			}
			if v := c.String("dsn"); v != "" {
				cfg.Store.DSN = v
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Otel.Enabled {
		shutdown, err := otto.Init(ctx, otto.Config{
			ServiceName:    cfg.Otel.ServiceName,
			ServiceVersion: version,
			UseStdout:      cfg.Otel.Stdout,
			Endpoint:       cfg.Otel.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	st, err := openStore(ctx, cfg.Store.DSN, ledger.Register(store.NewJSONCodec()), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	coll := metrics.New(reg)
	if sizer, ok := st.(metrics.Sizer); ok {
		metrics.RegisterStoreSize(reg, sizer)
	}

	sys := runtime.NewSystem(st,
		runtime.WithSnapshotStore(st),
		runtime.WithLogger(logger),
		runtime.WithObserver(coll),
		runtime.WithRecovery(cfg.Recovery.Recover()),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(sys, logger, reg, cfg.Ledger.SnapshotEvery).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", storeKind(cfg.Store.DSN))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := sys.Shutdown(shutdownCtx); err != nil {
		logger.Warn("unit shutdown", "err", err)
	}
	logger.Info("stopped")
	return nil
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "print what recovery delivers for one persistence id",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "persistence id", Required: true},
			&cli.StringFlag{Name: "dsn", Usage: "store DSN, overrides store.dsn"},
			&cli.Uint64Flag{Name: "from", Usage: "first sequence number; skips the snapshot"},
			&cli.Uint64Flag{Name: "to", Usage: "last sequence number (0 = unbounded)"},
			&cli.Uint64Flag{Name: "max", Usage: "replay at most this many events (0 = unbounded)"},
			&cli.BoolFlag{Name: "no-snapshot", Usage: "ignore stored snapshots"},
			&cli.BoolFlag{Name: "verify", Usage: "replay twice and fail if the results differ"},
			&cli.BoolFlag{Name: "json", Usage: "print entries as JSON lines"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if v := c.String("dsn"); v != "" {
				cfg.Store.DSN = v
			}
			st, err := openStore(c.Context, cfg.Store.DSN, ledger.Register(store.NewJSONCodec()), logger)
			if err != nil {
				return err
			}
			defer st.Close()
			return replay(c.Context, c.App.Writer, st, replayArgs{
				id:         c.String("id"),
				from:       c.Uint64("from"),
				to:         c.Uint64("to"),
				max:        c.Uint64("max"),
				noSnapshot: c.Bool("no-snapshot"),
				verify:     c.Bool("verify"),
				json:       c.Bool("json"),
			})
		},
	}
}

type replayArgs struct {
	id         string
	from       uint64
	to         uint64
	max        uint64
	noSnapshot bool
	verify     bool
	json       bool
}

func replay(ctx context.Context, w io.Writer, st store.Store, args replayArgs) error {
	req := config.RecoveryConfig{ToSequenceNr: args.to, ReplayMax: args.max}.Recover()
	if args.noSnapshot {
		req.FromSnapshot.MaxSequenceNr = 0
	}
	opts := []eval.CaptureOption{eval.FromSequenceNr(args.from)}
	var (
		capture eval.Capture
		err     error
	)
	if args.verify {
		capture, err = eval.Verify(ctx, st, st, args.id, req, 2, opts...)
	} else {
		capture, err = eval.CaptureReplay(ctx, st, st, args.id, req, opts...)
	}
	if err != nil {
		return err
	}
	if !args.json {
		_, err = fmt.Fprintln(w, capture.Outline())
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range capture.Entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print version and exit",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "persistor %s (commit=%s, date=%s)\n", version, commit, date)
			return err
		},
	}
}
