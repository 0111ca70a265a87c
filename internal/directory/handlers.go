package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"

	"botdir/internal/authutil"
	"botdir/internal/journal"
)

const (
	maxAnnounceBody = 4 << 10
	journalTimeout  = 2 * time.Second
	wsWriteTimeout  = 10 * time.Second
)

type healthPayload struct {
	Status   string `json:"status"`
	Buckets  int    `json:"buckets"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	Journal  string `json:"journal"`
}

type cleanPayload struct {
	BucketsBefore int `json:"buckets_before"`
	BucketsAfter  int `json:"buckets_after"`
}

func (s *Server) lookupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddrFrom(r.Context())
		entries, dirty := s.dir.Lookup(addr)
		s.metrics.lookedUp(dirty)
		writeJSON(w, http.StatusOK, viewsOf(entries))
	}
}

func (s *Server) announceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddrFrom(r.Context())
		if !s.limiter.Allow(addr) {
			s.metrics.RateLimited.Inc()
			http.Error(w, "too many announcements", http.StatusTooManyRequests)
			return
		}
		var req Announcement
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnnounceBody)).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := req.Normalize(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ok := s.dir.Announce(addr, req.Instance(), req.Name)
		s.metrics.announced(ok)
		s.record(r.Context(), addr, req, ok)
		if !ok {
			entry := httplog.LogEntry(r.Context())
			entry.Warn().
				Str("domain", req.Domain).
				Uint16("port", req.Port).
				Msg("directory full, announcement rejected")
			http.Error(w, "directory full", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// record appends the outcome to the journal. Failures are logged only.
func (s *Server) record(ctx context.Context, addr netip.Addr, req Announcement, ok bool) {
	if s.journal == nil {
		return
	}
	outcome := journal.OutcomeAccepted
	if !ok {
		outcome = journal.OutcomeRejected
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	err := s.journal.Record(ctx, journal.Event{
		Client:  addr.String(),
		Domain:  req.Domain,
		Port:    req.Port,
		Name:    req.Name,
		Outcome: outcome,
	})
	if err != nil {
		entry := httplog.LogEntry(ctx)
		entry.Error().Err(err).Msg("journal append failed")
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := s.dir.Stats()
		payload := healthPayload{
			Status:   "ok",
			Buckets:  stats.Buckets,
			Entries:  stats.Entries,
			Capacity: stats.Capacity,
			Journal:  "disabled",
		}
		status := http.StatusOK
		if s.journal != nil {
			payload.Journal = "ok"
			if err := s.journal.Ping(r.Context()); err != nil {
				entry := httplog.LogEntry(r.Context())
				entry.Error().Err(err).Msg("journal ping failed")
				payload.Journal = "error"
				payload.Status = "error"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, payload)
	}
}

func (s *Server) cleanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		before, after := s.dir.Sweep()
		s.metrics.Sweeps.Inc()
		entry := httplog.LogEntry(r.Context())
		entry.Info().
			Int("buckets_before", before).
			Int("buckets_after", after).
			Msg("admin clean")
		writeJSON(w, http.StatusOK, cleanPayload{BucketsBefore: before, BucketsAfter: after})
	}
}

func (s *Server) journalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.journal == nil {
			http.Error(w, "journal disabled: set DATABASE_URL to enable it", http.StatusServiceUnavailable)
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		events, err := s.journal.Recent(r.Context(), limit)
		if err != nil {
			entry := httplog.LogEntry(r.Context())
			entry.Error().Err(err).Msg("journal query failed")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []journal.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// watchHandler streams the caller's live entries over a websocket until the
// peer goes away.
func (s *Server) watchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddrFrom(r.Context())
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			entry := httplog.LogEntry(r.Context())
			entry.Warn().Err(err).Msg("ws upgrade")
			return
		}
		defer conn.Close()
		s.metrics.Watchers.Inc()
		defer s.metrics.Watchers.Dec()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(s.watchEvery)
		defer ticker.Stop()
		for {
			entries, _ := s.dir.Lookup(addr)
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(viewsOf(entries)); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					entry := httplog.LogEntry(r.Context())
					entry.Debug().Err(err).Msg("ws write")
				}
				return
			}
			select {
			case <-gone:
				return
			case <-ticker.C:
			}
		}
	}
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.signer.Enabled() {
			http.Error(w, "admin routes disabled: set BOTDIR_ADMIN_SECRET to enable them", http.StatusServiceUnavailable)
			return
		}
		subject, err := s.signer.Validate(authutil.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, authutil.ErrInvalidScope) {
				status = http.StatusForbidden
			}
			http.Error(w, "invalid token", status)
			return
		}
		httplog.LogEntrySetField(r.Context(), "admin", subject)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
