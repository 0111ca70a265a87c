package directory

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/httplog"
)

type ctxClientAddrKey struct{}

var errNoClientAddr = errors.New("cannot determine client address")

// ClientAddr resolves the caller's address: the first X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote address. Malformed headers
// are skipped and returned in bad so the caller can log them.
func ClientAddr(r *http.Request) (addr netip.Addr, bad []string, err error) {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap(), bad, nil
		}
		bad = append(bad, "X-Forwarded-For")
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), bad, nil
		}
		bad = append(bad, "X-Real-IP")
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), bad, nil
	}
	return netip.Addr{}, bad, errNoClientAddr
}

func (s *Server) clientAddrMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, bad, err := ClientAddr(r)
		for _, header := range bad {
			entry := httplog.LogEntry(r.Context())
			entry.Warn().
				Str("header", header).
				Str("value", r.Header.Get(header)).
				Msg("malformed client address header")
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		httplog.LogEntrySetField(r.Context(), "client_addr", addr.String())
		ctx := context.WithValue(r.Context(), ctxClientAddrKey{}, addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientAddrFrom(ctx context.Context) netip.Addr {
	addr, _ := ctx.Value(ctxClientAddrKey{}).(netip.Addr)
	return addr
}
