package announcer

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"botdir/internal/directory"
)

var (
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMu  sync.Mutex
)

type announcerAPI interface {
	Announce(context.Context, directory.Announcement) error
}

// Heartbeat re-announces an instance often enough to stay inside the
// directory's TTL.
type Heartbeat struct {
	api    announcerAPI
	ann    directory.Announcement
	every  time.Duration
	jitter time.Duration

	// OnResult, when set, sees the outcome of every attempt.
	OnResult func(error)
}

// NewHeartbeat announces ann every interval plus up to jitter.
func NewHeartbeat(api announcerAPI, ann directory.Announcement, every, jitter time.Duration) *Heartbeat {
	return &Heartbeat{api: api, ann: ann, every: every, jitter: jitter}
}

// Run announces immediately and then on every beat until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	for {
		err := h.api.Announce(ctx, h.ann)
		if err != nil && ctx.Err() == nil {
			if errors.Is(err, ErrRejected) {
				log.Printf("announce %s:%d rejected: directory full", h.ann.Domain, h.ann.Port)
			} else {
				log.Printf("announce %s:%d failed: %v", h.ann.Domain, h.ann.Port, err)
			}
		}
		if h.OnResult != nil {
			h.OnResult(err)
		}
		timer := time.NewTimer(h.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *Heartbeat) delay() time.Duration {
	var jitter time.Duration
	if h.jitter > 0 {
		randMu.Lock()
		jitter = time.Duration(randSrc.Int63n(int64(h.jitter)))
		randMu.Unlock()
	}
	return h.every + jitter
}
