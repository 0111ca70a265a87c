package announcer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"botdir/internal/directory"
)

// WatchView renders a live peer list pushed by the directory.
type WatchView struct {
	app    *tview.Application
	peers  *tview.Table
	status *tview.TextView
	once   sync.Once
}

func NewWatchView(directoryURL string) *WatchView {
	peers := tview.NewTable().
		SetFixed(1, 0).
		SetSelectable(true, false)
	peers.SetBorder(true).SetTitle(" Live peers ")

	status := tview.NewTextView().
		SetDynamicColors(true)
	status.SetBorder(true).SetTitle(" " + directoryURL + " ")

	w := &WatchView{
		app:    tview.NewApplication(),
		peers:  peers,
		status: status,
	}
	w.setHeader()

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(peers, 0, 1, true).
		AddItem(status, 3, 0, false)

	w.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			w.stop()
			return nil
		}
		return ev
	})
	w.app.SetRoot(layout, true)
	return w
}

func (w *WatchView) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.stop()
	}()
	return w.app.Run()
}

func (w *WatchView) stop() {
	w.once.Do(func() {
		w.app.Stop()
	})
}

// Update replaces the peer table.
func (w *WatchView) Update(entries []directory.EntryView) {
	now := time.Now()
	w.app.QueueUpdateDraw(func() {
		w.peers.Clear()
		w.setHeader()
		for i, e := range entries {
			row := i + 1
			w.peers.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%s:%d", e.Domain, e.Port)).SetTextColor(tcell.ColorAqua))
			w.peers.SetCell(row, 1, tview.NewTableCell(displayName(e.Name)).SetTextColor(tcell.ColorYellow).SetExpansion(1))
			w.peers.SetCell(row, 2, tview.NewTableCell(humanize.RelTime(time.UnixMilli(e.Updated), now, "ago", "from now")))
		}
		w.status.SetText(fmt.Sprintf("[green]%d live[-]  updated %s  [gray](q to quit)[-]", len(entries), now.Format("15:04:05")))
	})
}

// ShowError puts err in the status line.
func (w *WatchView) ShowError(err error) {
	w.app.QueueUpdateDraw(func() {
		w.status.SetText(fmt.Sprintf("[red]%v[-]", err))
	})
}

func (w *WatchView) setHeader() {
	for col, title := range []string{"ADDRESS", "NAME", "ANNOUNCED"} {
		w.peers.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorWhite).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
}
