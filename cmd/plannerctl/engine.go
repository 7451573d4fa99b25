package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/calendar"
	"example.com/plannersync/internal/config"
	"example.com/plannersync/internal/monthcache"
	"example.com/plannersync/internal/planner"
	"example.com/plannersync/internal/revalcache"
	httptransport "example.com/plannersync/internal/transport/http"
)

// engine bundles the client-side stack behind one calendar.
type engine struct {
	cal    *calendar.Calendar
	months *monthcache.FileStore
	cache  *revalcache.Cache
	disk   *revalcache.DiskStore
	role   calendar.Role
	loc    *time.Location
}

func (e *engine) Close() {
	e.cal.Close()
	if err := e.disk.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close response cache: %v\n", err)
	}
}

func newEngine(ctx context.Context, cmd *cobra.Command, month time.Time, opts ...calendar.Option) (*engine, error) {
	cfg := config.Load()
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logOut := io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := func(prefix string) *log.Logger {
		return log.New(logOut, prefix, log.LstdFlags|log.Lshortfile)
	}

	var identity auth.Identity = auth.NewTokenIdentity(cfg.PlannerToken)
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		identity = auth.StaticIdentity(user)
	}
	role := calendar.RoleOwner
	if viewer, _ := cmd.Flags().GetBool("viewer"); viewer {
		role = calendar.RoleViewer
	}

	disk, err := revalcache.OpenDisk(ctx, cfg.ResponseCachePath())
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	cache := revalcache.New(revalcache.WithDisk(disk), revalcache.WithLogger(logger("[revalcache] ")))
	months := monthcache.NewFileStore(cfg.MonthCacheDir(), monthcache.WithLogger(logger("[monthcache] ")))

	client := httptransport.NewClient(cfg.PlannerBaseURL, cfg.PlannerToken, cfg.HTTPTimeout)
	fetcher := planner.NewFetcher(client, identity,
		planner.WithLogger(logger("[planner] ")),
		planner.WithCache(cache, cfg.RevalidationTTL),
		planner.WithLocation(loc),
		planner.WithFallbackConcurrency(cfg.FetchFanout),
	)
	mover := planner.NewMoveClient(client, identity, loc)

	base := []calendar.Option{
		calendar.WithLogger(logger("[calendar] ")),
		calendar.WithLocation(loc),
		calendar.WithMonth(month),
		calendar.WithVerifyBackoff(cfg.VerifyBackoff),
	}
	cal := calendar.New(months, fetcher, mover, append(base, opts...)...)

	return &engine{cal: cal, months: months, cache: cache, disk: disk, role: role, loc: loc}, nil
}
