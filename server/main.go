// CalendarBot Lite: an always-on calendar query service for constrained
// devices. It ingests ICS feeds, keeps a short window of upcoming events in
// memory, and answers next-meeting and voice-summary questions over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/config"
	"github.com/bencan1a/calendarBot-sub009/server/health"
	"github.com/bencan1a/calendarBot-sub009/server/ics"
	"github.com/bencan1a/calendarBot-sub009/server/morning"
	"github.com/bencan1a/calendarBot-sub009/server/refresh"
	"github.com/bencan1a/calendarBot-sub009/server/skipstore"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	clock := clockwork.NewRealClock()
	instanceID := uuid.NewString()

	log.Info().
		Str("instance", instanceID).
		Int("sources", len(cfg.Sources)).
		Int("refresh_interval_s", cfg.RefreshIntervalSeconds).
		Msg("starting calendarbot lite")

	skips := skipstore.New(cfg.SkipStorePath, clock, log)
	if err := skips.Load(); err != nil {
		log.Warn().Err(err).Msg("skip store load failed, starting empty")
	}

	holder := window.NewHolder()
	tracker := health.NewTracker(clock)

	fetcher := ics.NewFetcher(
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
		cfg.MaxRetries,
		cfg.RetryBackoffFactor,
		log,
	)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid redis_url, using in-memory cache")
		} else {
			redisClient = redis.NewClient(opts)
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				log.Warn().Err(err).Msg("redis unreachable, using in-memory cache")
				redisClient = nil
			} else {
				log.Info().Msg("morning summary cache backed by redis")
			}
		}
	}
	analyzer := morning.NewAnalyzer(clock, morning.NewCache(redisClient, clock, log), log)

	sources := make([]ics.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, ics.Source{Name: src.Name, URL: src.URL})
	}

	api := NewAPI(cfg, holder, skips, tracker, nil, analyzer, clock, instanceID, log)

	pipeline := refresh.NewPipeline(refresh.Options{
		Sources:       sources,
		Fetcher:       fetcher,
		Skips:         skips,
		Holder:        holder,
		Tracker:       tracker,
		Clock:         clock,
		Log:           log,
		Notifier:      api.hub,
		Interval:      time.Duration(cfg.RefreshIntervalSeconds) * time.Second,
		ExpansionDays: cfg.RRuleExpansionDays,
		WindowSize:    cfg.EventWindowSize,
	})
	api.pipeline = pipeline

	addr := net.JoinHostPort(cfg.ServerBind, fmt.Sprintf("%d", cfg.ServerPort))
	listener, err := bindWithConflictResolution(addr, cfg.ServerPort, cfg.NonInteractive, log)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("cannot bind listener")
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		pipeline.Loop(ctx)
	}()
	go api.hub.Run(ctx)

	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	// Stop the background refresh first so no swap races the drain.
	cancel()
	select {
	case <-refreshDone:
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("refresh task did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced server shutdown")
	}

	log.Info().Msg("exited")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
