package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"botdir/internal/authutil"
	"botdir/internal/journal"
)

const testSecret = "test-admin-secret"

type fakeJournal struct {
	mu      sync.Mutex
	events  []journal.Event
	pingErr error
	err     error
}

func (f *fakeJournal) Record(_ context.Context, ev journal.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]journal.Event, 0, len(f.events))
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.events[i])
	}
	return out, f.err
}

func (f *fakeJournal) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeJournal) Events() []journal.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]journal.Event, len(f.events))
	copy(out, f.events)
	return out
}

type testEnv struct {
	dir    *Directory
	clock  *clock.Mock
	server *Server
	router http.Handler
}

func newTestEnv(t *testing.T, capacity int, ttl time.Duration, opts ServerOptions) *testEnv {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	dir := NewDirectory(capacity, ttl, mock)
	if opts.Signer == nil {
		opts.Signer = authutil.NewSigner(testSecret)
	}
	opts.Logger = zerolog.Nop()
	srv, err := NewServer(dir, nil, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{dir: dir, clock: mock, server: srv, router: srv.Router()}
}

func (e *testEnv) do(method, path, remote, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func adminHeader(t *testing.T) map[string]string {
	t.Helper()
	token, err := authutil.NewSigner(testSecret).Issue("ops", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
