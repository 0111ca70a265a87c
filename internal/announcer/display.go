package announcer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"botdir/internal/directory"
	"botdir/internal/journal"
)

// Printer renders directory data for humans.
type Printer struct {
	out io.Writer
	now func() time.Time
	mu  sync.Mutex

	addr  *color.Color
	name  *color.Color
	muted *color.Color
	ok    *color.Color
	bad   *color.Color
}

// NewPrinter writes to out. Colors are dropped when noColor is set.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:   out,
		now:   time.Now,
		addr:  color.New(color.FgCyan),
		name:  color.New(color.FgYellow),
		muted: color.New(color.Faint),
		ok:    color.New(color.FgGreen),
		bad:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.addr, p.name, p.muted, p.ok, p.bad} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

// Peers prints a lookup result, one peer per line.
func (p *Printer) Peers(entries []directory.EntryView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(entries) == 0 {
		p.muted.Fprintln(p.out, "no live peers")
		return
	}
	for _, e := range entries {
		updated := time.UnixMilli(e.Updated)
		fmt.Fprintf(p.out, "%s  %s  %s\n",
			p.addr.Sprintf("%s:%d", e.Domain, e.Port),
			p.name.Sprint(displayName(e.Name)),
			p.muted.Sprintf("announced %s", humanize.RelTime(updated, p.now(), "ago", "from now")))
	}
}

// History prints stored sightings.
func (p *Printer) History(seen []Sighting) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(seen) == 0 {
		p.muted.Fprintln(p.out, "no peers seen yet")
		return
	}
	for _, s := range seen {
		fmt.Fprintf(p.out, "%s  %s  %s\n",
			p.addr.Sprint(s.Key()),
			p.name.Sprint(displayName(s.Name)),
			p.muted.Sprintf("first %s, last %s, %s sightings",
				humanize.RelTime(s.FirstSeen, p.now(), "ago", "from now"),
				humanize.RelTime(s.LastSeen, p.now(), "ago", "from now"),
				humanize.Comma(int64(s.Times))))
	}
}

// Events prints journal rows.
func (p *Printer) Events(events []journal.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(events) == 0 {
		p.muted.Fprintln(p.out, "journal is empty")
		return
	}
	for _, ev := range events {
		outcome := p.ok.Sprint(ev.Outcome)
		if ev.Outcome != journal.OutcomeAccepted {
			outcome = p.bad.Sprint(ev.Outcome)
		}
		fmt.Fprintf(p.out, "%s  %-8s  %s  %s  %s\n",
			p.muted.Sprint(humanize.Time(ev.At)),
			outcome,
			ev.Client,
			p.addr.Sprintf("%s:%d", ev.Domain, ev.Port),
			p.name.Sprint(displayName(ev.Name)))
	}
}

// Announced reports the result of one announce attempt.
func (p *Printer) Announced(a directory.Announcement, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := p.now().Format("15:04:05")
	if err != nil {
		fmt.Fprintf(p.out, "%s %s %s:%d: %v\n", p.muted.Sprintf("[%s]", ts), p.bad.Sprint("FAILED"), a.Domain, a.Port, err)
		return
	}
	fmt.Fprintf(p.out, "%s %s %s:%d as %s\n", p.muted.Sprintf("[%s]", ts), p.ok.Sprint("announced"), a.Domain, a.Port, p.name.Sprint(displayName(a.Name)))
}

// Cleaned reports an admin clean.
func (p *Printer) Cleaned(res CleanResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "swept %s buckets (%s -> %s)\n",
		p.ok.Sprint(humanize.Comma(int64(res.BucketsBefore-res.BucketsAfter))),
		humanize.Comma(int64(res.BucketsBefore)),
		humanize.Comma(int64(res.BucketsAfter)))
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
