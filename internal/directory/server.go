package directory

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"botdir/internal/authutil"
	"botdir/internal/journal"
)

// Recorder is the slice of the journal the server needs.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
	Ping(ctx context.Context) error
}

// ServerOptions carries the optional collaborators of a Server.
type ServerOptions struct {
	Journal       Recorder
	Signer        *authutil.Signer
	WatchInterval time.Duration
	AnnounceRate  float64
	AnnounceBurst int
	LimiterCache  int
	Logger        zerolog.Logger
}

// Server bundles the directory HTTP handlers, middleware, and metrics.
type Server struct {
	dir        *Directory
	metrics    *Metrics
	journal    Recorder
	signer     *authutil.Signer
	limiter    *announceLimiter
	watchEvery time.Duration
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewServer creates a Server over dir. A nil metrics gets a fresh set.
func NewServer(dir *Directory, metrics *Metrics, opts ServerOptions) (*Server, error) {
	if metrics == nil {
		metrics = NewMetrics(dir)
	}
	s := &Server{
		dir:        dir,
		metrics:    metrics,
		journal:    opts.Journal,
		signer:     opts.Signer,
		watchEvery: opts.WatchInterval,
		log:        opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if s.watchEvery <= 0 {
		s.watchEvery = 5 * time.Second
	}
	if opts.AnnounceRate > 0 {
		limiter, err := newAnnounceLimiter(opts.AnnounceRate, opts.AnnounceBurst, opts.LimiterCache)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter
	}
	return s, nil
}

// Metrics exposes the collectors (useful for tests).
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Router wires up chi routes, middleware, and handlers ready for http.Server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", s.healthHandler())
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.clientAddrMiddleware)
		r.Get("/", s.lookupHandler())
		r.Post("/", s.announceHandler())
		r.Get("/ws", s.watchHandler())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Post("/clean", s.cleanHandler())
		r.Get("/journal", s.journalHandler())
	})

	return r
}
