package directory

import (
	"errors"
	"strings"

	"botdir/internal/registry"
)

const maxNameLen = 256

// Instance identifies one announced bot by the address it listens on.
type Instance struct {
	Domain string
	Port   uint16
}

// Announcement is the JSON body bots POST to the directory.
type Announcement struct {
	Domain string `json:"domain"`
	Port   uint16 `json:"port"`
	Name   string `json:"name"`
}

// Normalize trims the announcement and reports why it is unusable, if it is.
func (a *Announcement) Normalize() error {
	a.Domain = strings.TrimSpace(a.Domain)
	a.Name = strings.TrimSpace(a.Name)
	if a.Domain == "" {
		return errors.New("domain required")
	}
	if a.Port == 0 {
		return errors.New("port required")
	}
	if len(a.Name) > maxNameLen {
		return errors.New("name too long")
	}
	return nil
}

// Instance returns the identity part of the announcement.
func (a Announcement) Instance() Instance {
	return Instance{Domain: a.Domain, Port: a.Port}
}

// EntryView is the JSON shape of a live entry. Updated is unix milliseconds.
type EntryView struct {
	Domain  string `json:"domain"`
	Port    uint16 `json:"port"`
	Name    string `json:"name"`
	Updated int64  `json:"updated"`
}

func viewsOf(entries []registry.Entry[Instance]) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{
			Domain:  e.ID.Domain,
			Port:    e.ID.Port,
			Name:    e.Name,
			Updated: e.Updated.UnixMilli(),
		})
	}
	return out
}
