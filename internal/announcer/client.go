package announcer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"botdir/internal/directory"
	"botdir/internal/journal"
)

// ErrRejected is returned when the directory refuses an announcement
// because it is full.
var ErrRejected = errors.New("directory rejected announcement")

// StatusError carries an unexpected HTTP status from the directory.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("directory returned %d", e.Code)
	}
	return fmt.Sprintf("directory returned %d: %s", e.Code, e.Body)
}

// Client talks to one directory server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL using timeout per request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Announce registers or refreshes a on the directory.
func (c *Client) Announce(ctx context.Context, a directory.Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", ErrRejected, statusError(resp))
	default:
		return statusError(resp)
	}
}

// Lookup returns the live entries announced from the caller's address.
func (c *Client) Lookup(ctx context.Context) ([]directory.EntryView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	var out []directory.EntryView
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return out, nil
}

// CleanResult reports the outcome of an admin clean.
type CleanResult struct {
	BucketsBefore int `json:"buckets_before"`
	BucketsAfter  int `json:"buckets_after"`
}

// Clean asks the directory for a full cleaning pass using an admin token.
func (c *Client) Clean(ctx context.Context, token string) (CleanResult, error) {
	var out CleanResult
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/admin/clean", nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if err := c.doJSON(req, &out); err != nil {
		return out, fmt.Errorf("clean: %w", err)
	}
	return out, nil
}

// Journal fetches up to limit recent journal events using an admin token.
func (c *Client) Journal(ctx context.Context, token string, limit int) ([]journal.Event, error) {
	u := c.BaseURL + "/admin/journal"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	var out []journal.Event
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return out, nil
}

// Watch streams entry lists pushed by the directory's /ws endpoint into fn
// until ctx is done or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func([]directory.EntryView)) error {
	wsURL, err := websocketURL(c.BaseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("watch dial: %w", err)
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-stop:
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		}
	}()
	for {
		var entries []directory.EntryView
		if err := conn.ReadJSON(&entries); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch read: %w", err)
		}
		fn(entries)
	}
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported directory scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
