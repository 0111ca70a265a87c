package directory

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures the directory server settings derived from CLI flags,
// an optional TOML file and the environment.
type Config struct {
	Addr            string
	TTL             time.Duration
	Capacity        int
	SweepInterval   time.Duration
	WatchInterval   time.Duration
	AnnounceRate    float64
	AnnounceBurst   int
	LimiterCache    int
	DatabaseURL     string
	AdminSecret     string
	LogJSON         bool
	ConfigFile      string
	IssueAdminToken string
}

// fileConfig mirrors Config for TOML files. Pointers distinguish unset keys.
type fileConfig struct {
	Addr          *string   `toml:"addr"`
	TTL           *duration `toml:"ttl"`
	Capacity      *int      `toml:"capacity"`
	SweepInterval *duration `toml:"sweep_interval"`
	WatchInterval *duration `toml:"watch_interval"`
	AnnounceRate  *float64  `toml:"announce_rate"`
	AnnounceBurst *int      `toml:"announce_burst"`
	LimiterCache  *int      `toml:"limiter_cache"`
	DatabaseURL   *string   `toml:"database_url"`
	AdminSecret   *string   `toml:"admin_secret"`
	LogJSON       *bool     `toml:"log_json"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadConfig parses args (without the program name) into a Config.
// Flags given on the command line win over the config file.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("directory", flag.ContinueOnError)

	fs.StringVar(&cfg.Addr, "addr", ":8000", "address the directory listens on")
	fs.DurationVar(&cfg.TTL, "ttl", 300*time.Second, "how long an announcement stays live without refresh")
	fs.IntVar(&cfg.Capacity, "capacity", 10000, "maximum number of client addresses tracked")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", 0, "interval of full cleaning passes (0 disables)")
	fs.DurationVar(&cfg.WatchInterval, "watch-interval", 5*time.Second, "push interval for /ws watchers")
	fs.Float64Var(&cfg.AnnounceRate, "announce-rate", 1, "announcements per second allowed per client address (0 disables)")
	fs.IntVar(&cfg.AnnounceBurst, "announce-burst", 5, "announcement burst allowed per client address")
	fs.IntVar(&cfg.LimiterCache, "limiter-cache", 4096, "number of client addresses with tracked rate limits")
	fs.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL url for the announcement journal (empty disables)")
	fs.StringVar(&cfg.AdminSecret, "admin-secret", os.Getenv("BOTDIR_ADMIN_SECRET"), "HMAC secret for admin tokens (empty disables admin routes)")
	fs.BoolVar(&cfg.LogJSON, "log-json", false, "emit JSON logs")
	fs.StringVar(&cfg.ConfigFile, "config", "", "optional TOML config file")
	fs.StringVar(&cfg.IssueAdminToken, "issue-admin-token", "", "print an admin token for the given subject and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		set := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := cfg.applyFile(cfg.ConfigFile, set); err != nil {
			return nil, err
		}
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyFile(path string, set map[string]bool) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if fc.Addr != nil && !set["addr"] {
		cfg.Addr = *fc.Addr
	}
	if fc.TTL != nil && !set["ttl"] {
		cfg.TTL = fc.TTL.Duration
	}
	if fc.Capacity != nil && !set["capacity"] {
		cfg.Capacity = *fc.Capacity
	}
	if fc.SweepInterval != nil && !set["sweep-interval"] {
		cfg.SweepInterval = fc.SweepInterval.Duration
	}
	if fc.WatchInterval != nil && !set["watch-interval"] {
		cfg.WatchInterval = fc.WatchInterval.Duration
	}
	if fc.AnnounceRate != nil && !set["announce-rate"] {
		cfg.AnnounceRate = *fc.AnnounceRate
	}
	if fc.AnnounceBurst != nil && !set["announce-burst"] {
		cfg.AnnounceBurst = *fc.AnnounceBurst
	}
	if fc.LimiterCache != nil && !set["limiter-cache"] {
		cfg.LimiterCache = *fc.LimiterCache
	}
	if fc.DatabaseURL != nil && !set["database-url"] {
		cfg.DatabaseURL = *fc.DatabaseURL
	}
	if fc.AdminSecret != nil && !set["admin-secret"] {
		cfg.AdminSecret = *fc.AdminSecret
	}
	if fc.LogJSON != nil && !set["log-json"] {
		cfg.LogJSON = *fc.LogJSON
	}
	return nil
}

// Validate rejects settings the directory cannot run with.
func (cfg *Config) Validate() error {
	switch {
	case cfg.TTL <= 0:
		return errors.New("ttl must be positive")
	case cfg.Capacity <= 0:
		return errors.New("capacity must be positive")
	case cfg.SweepInterval < 0:
		return errors.New("sweep-interval must not be negative")
	case cfg.WatchInterval <= 0:
		return errors.New("watch-interval must be positive")
	case cfg.AnnounceRate < 0:
		return errors.New("announce-rate must not be negative")
	case cfg.AnnounceRate > 0 && cfg.AnnounceBurst <= 0:
		return errors.New("announce-burst must be positive when rate limiting")
	case cfg.AnnounceRate > 0 && cfg.LimiterCache <= 0:
		return errors.New("limiter-cache must be positive when rate limiting")
	}
	return nil
}
