package directory

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"botdir/internal/authutil"
	"botdir/internal/journal"
)

// App wraps the directory HTTP server and the registry it guards.
type App struct {
	Cfg *Config
	Dir *Directory
	Log zerolog.Logger

	server  *Server
	journal *journal.Journal
	sweeper *Sweeper
	srv     *http.Server
	ln      net.Listener
	cancel  context.CancelFunc
}

// NewApp wires the dependencies required to run the directory.
func NewApp(ctx context.Context, cfg *Config) (*App, error) {
	logger := httplog.NewLogger("botdir", httplog.Options{JSON: cfg.LogJSON})
	a := &App{
		Cfg: cfg,
		Dir: NewDirectory(cfg.Capacity, cfg.TTL, nil),
		Log: logger,
	}

	opts := ServerOptions{
		Signer:        authutil.NewSigner(cfg.AdminSecret),
		WatchInterval: cfg.WatchInterval,
		AnnounceRate:  cfg.AnnounceRate,
		AnnounceBurst: cfg.AnnounceBurst,
		LimiterCache:  cfg.LimiterCache,
		Logger:        logger,
	}
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL not set; announcement journal disabled")
	} else {
		openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		j, err := journal.Open(openCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return nil, err
		}
		a.journal = j
		opts.Journal = j
	}

	metrics := NewMetrics(a.Dir)
	server, err := NewServer(a.Dir, metrics, opts)
	if err != nil {
		_ = a.journal.Close()
		return nil, err
	}
	a.server = server
	a.sweeper = NewSweeper(a.Dir, metrics, cfg.SweepInterval, nil, logger)
	return a, nil
}

// Start binds the listener and begins serving requests.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.Cfg.Addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.srv = &http.Server{
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.sweeper.Run(ctx)

	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatal().Err(err).Msg("directory server stopped")
		}
	}()

	a.Log.Info().
		Str("addr", ln.Addr().String()).
		Dur("ttl", a.Cfg.TTL).
		Int("capacity", a.Cfg.Capacity).
		Dur("sweep_interval", a.Cfg.SweepInterval).
		Msg("directory listening")
	return nil
}

// Addr returns the bound listen address once started.
func (a *App) Addr() string {
	if a.ln == nil {
		return a.Cfg.Addr
	}
	return a.ln.Addr().String()
}

// Shutdown gracefully stops the HTTP server, the sweeper and the journal.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.sweeper.Close()
	var err error
	if a.srv != nil {
		err = multierr.Append(err, a.srv.Shutdown(ctx))
	}
	return multierr.Append(err, a.journal.Close())
}

// WaitForShutdown blocks on SIGINT/SIGTERM and then shuts down the app.
func WaitForShutdown(app *App) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	app.Log.Info().Msg("directory shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		app.Log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
