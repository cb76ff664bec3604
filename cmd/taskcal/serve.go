package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/bus"
	"taskcal/internal/calendar"
	"taskcal/internal/frame"
	appLog "taskcal/internal/log"
	"taskcal/internal/mockapi"
	"taskcal/internal/normalize"
	"taskcal/internal/optimistic"
	"taskcal/internal/overrides"
	"taskcal/internal/schedule"
	"taskcal/internal/web"
)

func serveCmd(g *globals) *cobra.Command {
	var (
		listen string
		mock   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar and keep it in sync with the Task API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				g.cfg.Listen = listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, g, mock)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&mock, "mock", false, "Run against an in-process mock backend")

	return cmd
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func serve(ctx context.Context, g *globals, mock bool) error {
	cfg := g.cfg
	loc := cfg.Location()
	appLog.Info("taskcal starting", "version", version, "listen", cfg.Listen, "timezone", loc.String(), "mock", mock)

	if mock {
		stop, err := startMock(ctx, g, loc)
		if err != nil {
			return err
		}
		defer stop()
	}

	session, err := g.session()
	if err != nil {
		return err
	}
	client := g.apiClient(session)

	store := overrides.NewMemory()
	if cfg.OverridesDB != "" {
		if store, err = overrides.Open(ctx, cfg.OverridesDB); err != nil {
			return err
		}
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Error("failed to close overrides store", err)
		}
	}()

	b := bus.New()
	coord := optimistic.New(client, optimistic.Options{
		Limit:      cfg.TaskLimit,
		Normalizer: normalize.New(loc),
		Overrides:  store,
		Bus:        b,
	})
	defer coord.Close()

	loop := frame.NewLoop()
	go loop.Run(ctx, frame.DefaultInterval)

	view := calendar.New(calendar.OptionsFrom(cfg), coord, b, loop, time.Now)
	defer view.Close()

	initCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := coord.Reload(initCtx); err != nil {
		appLog.Warn("initial task load failed, serving empty calendar", "err", err)
	}
	cancel()

	sched := schedule.New(loc)
	err = sched.Register(schedule.Jobs{
		RefreshSpec: cfg.RefreshCron,
		NowTickSpec: cfg.NowTick,
		Timeout:     cfg.RequestTimeout,
		Reloader:    coord,
		Ticker:      schedule.TickFunc(func() { view.Tick() }),
	})
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	srv := web.NewServer(web.Deps{
		Config:      cfg,
		View:        view,
		Tasks:       coord,
		Creator:     client,
		Bus:         b,
		Scheduler:   sched,
		PreviewPath: g.previewPath(),
		Debug:       g.debug,
	})
	if err := srv.Serve(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		return err
	}
	appLog.Info("taskcal exiting")
	return nil
}

// startMock serves a seeded mock backend on a loopback port and points the
// config at it.
func startMock(ctx context.Context, g *globals, loc *time.Location) (func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	m := mockapi.New()
	m.AddUser("demo@taskcal.local", "demo")
	m.Seed(time.Now().In(loc), loc)

	srv := &http.Server{Handler: m, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("mock backend stopped", err)
		}
	}()

	g.cfg.APIURL = "http://" + ln.Addr().String()
	// The stored session belongs to the real backend.
	g.cfg.SessionFile = ""
	appLog.Info("mock backend listening", "api_url", g.cfg.APIURL)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
