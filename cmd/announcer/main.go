package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"botdir/internal/announcer"
	"botdir/internal/directory"
)

type rootOptions struct {
	directoryURL string
	timeout      time.Duration
	dbPath       string
	noColor      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "announcer",
		Short:        "Announce a bot to a botdir directory and inspect its peers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.directoryURL, "directory", envOr("BOTDIR_URL", "http://127.0.0.1:8000"), "directory base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", defaultDBPath(), "sightings database path")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", color.NoColor, "disable colored output")

	root.AddCommand(
		newAnnounceCmd(opts),
		newPeersCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
		newCleanCmd(opts),
		newJournalCmd(opts),
	)
	return root
}

func newAnnounceCmd(opts *rootOptions) *cobra.Command {
	var (
		ann    directory.Announcement
		every  time.Duration
		jitter time.Duration
		once   bool
	)
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Announce this bot, repeating until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := ann.Normalize(); err != nil {
				return err
			}
			client := announcer.NewClient(opts.directoryURL, opts.timeout)
			printer := announcer.NewPrinter(cmd.OutOrStdout(), opts.noColor)
			if once {
				err := client.Announce(cmd.Context(), ann)
				printer.Announced(ann, err)
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			hb := announcer.NewHeartbeat(client, ann, every, jitter)
			hb.OnResult = func(err error) {
				if ctx.Err() == nil {
					printer.Announced(ann, err)
				}
			}
			hb.Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&ann.Domain, "domain", "", "domain or host the bot listens on")
	cmd.Flags().Uint16Var(&ann.Port, "port", 0, "port the bot listens on")
	cmd.Flags().StringVar(&ann.Name, "name", "", "display name")
	cmd.Flags().DurationVar(&every, "every", 2*time.Minute, "re-announce interval; keep it below the directory TTL")
	cmd.Flags().DurationVar(&jitter, "jitter", 10*time.Second, "random extra delay per beat")
	cmd.Flags().BoolVar(&once, "once", false, "announce a single time and exit")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func newPeersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List live peers announced from this address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := announcer.NewClient(opts.directoryURL, opts.timeout)
			entries, err := client.Lookup(cmd.Context())
			if err != nil {
				return err
			}
			recordSightings(opts.dbPath, entries)
			announcer.NewPrinter(cmd.OutOrStdout(), opts.noColor).Peers(entries)
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var forget time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every peer this bot has seen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := announcer.OpenSightings(opts.dbPath)
			if err != nil {
				return fmt.Errorf("open sightings: %w", err)
			}
			defer store.Close()
			if forget > 0 {
				if _, err := store.Forget(time.Now().Add(-forget)); err != nil {
					return err
				}
			}
			seen, err := store.All()
			if err != nil {
				return err
			}
			announcer.NewPrinter(cmd.OutOrStdout(), opts.noColor).History(seen)
			return nil
		},
	}
	cmd.Flags().DurationVar(&forget, "forget-older", 0, "drop sightings not seen within this window first")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the live peer list in a terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			store, err := announcer.OpenSightings(opts.dbPath)
			if err != nil {
				log.Printf("sightings disabled: %v", err)
			}
			defer store.Close()

			client := announcer.NewClient(opts.directoryURL, opts.timeout)
			view := announcer.NewWatchView(opts.directoryURL)
			go func() {
				err := client.Watch(ctx, func(entries []directory.EntryView) {
					view.Update(entries)
					if err := store.Record(entries); err != nil {
						view.ShowError(err)
					}
				})
				if err != nil {
					view.ShowError(err)
				}
			}()
			return view.Run(ctx)
		},
	}
}

func newCleanCmd(opts *rootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Ask the directory to sweep stale entries (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("admin token required (--token or BOTDIR_ADMIN_TOKEN)")
			}
			client := announcer.NewClient(opts.directoryURL, opts.timeout)
			res, err := client.Clean(cmd.Context(), token)
			if err != nil {
				return err
			}
			announcer.NewPrinter(cmd.OutOrStdout(), opts.noColor).Cleaned(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("BOTDIR_ADMIN_TOKEN"), "admin token")
	return cmd
}

func newJournalCmd(opts *rootOptions) *cobra.Command {
	var (
		token string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent announcement outcomes (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("admin token required (--token or BOTDIR_ADMIN_TOKEN)")
			}
			client := announcer.NewClient(opts.directoryURL, opts.timeout)
			events, err := client.Journal(cmd.Context(), token, limit)
			if err != nil {
				return err
			}
			announcer.NewPrinter(cmd.OutOrStdout(), opts.noColor).Events(events)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("BOTDIR_ADMIN_TOKEN"), "admin token")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of events")
	return cmd
}

func recordSightings(path string, entries []directory.EntryView) {
	store, err := announcer.OpenSightings(path)
	if err != nil {
		log.Printf("sightings disabled: %v", err)
		return
	}
	defer store.Close()
	if err := store.Record(entries); err != nil {
		log.Printf("record sightings: %v", err)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "botdir-sightings.db"
	}
	return filepath.Join(dir, "botdir", "sightings.db")
}
