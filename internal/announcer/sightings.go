package announcer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"botdir/internal/directory"
)

const sightingsBucket = "sightings"

// Sighting is what the bot remembers about a peer it has seen in the
// directory.
type Sighting struct {
	Domain    string    `json:"domain"`
	Port      uint16    `json:"port"`
	Name      string    `json:"name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Times     int       `json:"times"`
}

// Key is the store key for the sighting.
func (s Sighting) Key() string {
	return s.Domain + ":" + strconv.Itoa(int(s.Port))
}

// Sightings persists peer sightings in BoltDB so history survives restarts
// of the bot.
type Sightings struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenSightings opens or creates the store at path.
func OpenSightings(path string) (*Sightings, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sightingsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sightings{db: db, now: time.Now}, nil
}

func (s *Sightings) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record merges a lookup result into the store. Peers already known keep
// their first-seen time.
func (s *Sightings) Record(entries []directory.EntryView) error {
	if s == nil || s.db == nil || len(entries) == 0 {
		return nil
	}
	now := s.now()
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sightingsBucket))
		for _, e := range entries {
			seen := Sighting{Domain: e.Domain, Port: e.Port}
			key := []byte(seen.Key())
			if raw := bucket.Get(key); raw != nil {
				if err := json.Unmarshal(raw, &seen); err != nil {
					seen = Sighting{Domain: e.Domain, Port: e.Port}
				}
			}
			if seen.FirstSeen.IsZero() {
				seen.FirstSeen = now
			}
			seen.Name = e.Name
			seen.LastSeen = now
			seen.Times++
			data, err := json.Marshal(seen)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// All returns every sighting, most recently seen first.
func (s *Sightings) All() ([]Sighting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []Sighting
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sightingsBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var seen Sighting
			if err := json.Unmarshal(v, &seen); err == nil {
				out = append(out, seen)
			}
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, err
}

// Forget removes sightings not seen since cutoff and reports how many went.
func (s *Sightings) Forget(cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sightingsBucket))
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var seen Sighting
			if err := json.Unmarshal(v, &seen); err != nil || seen.LastSeen.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
