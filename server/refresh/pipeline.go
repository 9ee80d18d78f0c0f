// Package refresh orchestrates the fetch → parse → expand → filter → swap
// cycle that keeps the event window current.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/health"
	"github.com/bencan1a/calendarBot-sub009/server/ics"
	"github.com/bencan1a/calendarBot-sub009/server/observability"
	"github.com/bencan1a/calendarBot-sub009/server/skipstore"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

const (
	fallbackDurationSeconds = 3600
	heartbeatInterval       = 30 * time.Second
)

// Notifier is told when a new window has been swapped in.
type Notifier interface {
	WindowUpdated()
}

// sourceState remembers validators and the last good parse per source so a
// 304 response reuses the previous content.
type sourceState struct {
	cond   ics.Conditional
	events []ics.RawEvent
}

// Pipeline runs refresh cycles. A mutex serializes cycles: at most one runs
// at a time, and arbitrary repetition is safe.
type Pipeline struct {
	sources       []ics.Source
	fetcher       *ics.Fetcher
	skips         *skipstore.Store
	holder        *window.Holder
	tracker       *health.Tracker
	clock         clockwork.Clock
	log           zerolog.Logger
	notifier      Notifier
	interval      time.Duration
	expansionDays int
	windowSize    int

	cycleMu sync.Mutex
	stateMu sync.Mutex
	state   map[string]*sourceState

	kick chan struct{}
}

type Options struct {
	Sources       []ics.Source
	Fetcher       *ics.Fetcher
	Skips         *skipstore.Store
	Holder        *window.Holder
	Tracker       *health.Tracker
	Clock         clockwork.Clock
	Log           zerolog.Logger
	Notifier      Notifier
	Interval      time.Duration
	ExpansionDays int
	WindowSize    int
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		sources:       opts.Sources,
		fetcher:       opts.Fetcher,
		skips:         opts.Skips,
		holder:        opts.Holder,
		tracker:       opts.Tracker,
		clock:         opts.Clock,
		log:           opts.Log.With().Str("component", "refresh").Logger(),
		notifier:      opts.Notifier,
		interval:      opts.Interval,
		expansionDays: opts.ExpansionDays,
		windowSize:    opts.WindowSize,
		state:         make(map[string]*sourceState),
		kick:          make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band refresh from the background loop.
func (p *Pipeline) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Loop runs an immediate refresh, then one per interval until ctx is
// cancelled. A separate fast ticker keeps the liveness heartbeat fresh even
// with long refresh intervals.
func (p *Pipeline) Loop(ctx context.Context) {
	p.tracker.Beat()
	if err := p.RunOnce(ctx); err != nil {
		p.log.Error().Err(err).Msg("initial refresh failed")
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	beat := p.clock.NewTicker(heartbeatInterval)
	defer beat.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("refresh loop stopping")
			return
		case <-beat.Chan():
			p.tracker.Beat()
		case <-p.kick:
			if err := p.RunOnce(ctx); err != nil {
				p.log.Error().Err(err).Msg("forced refresh failed")
			}
		case <-ticker.Chan():
			if err := p.RunOnce(ctx); err != nil {
				p.log.Error().Err(err).Msg("refresh failed")
			}
		}
	}
}

// RunOnce executes a single refresh cycle. On whole-cycle failure the window
// is left untouched and last_success is not bumped; the next tick retries.
func (p *Pipeline) RunOnce(ctx context.Context) (err error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh cycle panicked: %v", r)
		}
		if err != nil {
			observability.RefreshCycles.WithLabelValues("failure").Inc()
		} else {
			observability.RefreshCycles.WithLabelValues("success").Inc()
		}
	}()

	started := p.clock.Now()
	p.tracker.MarkAttempt()
	p.tracker.Beat()

	raw, fetchErrs := p.collect(ctx)
	if len(p.sources) > 0 && fetchErrs == len(p.sources) {
		return fmt.Errorf("all %d sources failed", len(p.sources))
	}

	now := p.clock.Now()
	all := p.normalize(raw, now)

	win := make([]window.Event, 0, p.windowSize)
	for _, ev := range all {
		if ev.Start.Before(now) {
			continue
		}
		if p.skips != nil && p.skips.IsSkipped(ev.MeetingID) {
			continue
		}
		win = append(win, ev)
		if len(win) == p.windowSize {
			break
		}
	}

	p.holder.Swap(win, all, now)
	p.tracker.MarkSuccess(len(win))
	observability.WindowSize.Set(float64(len(win)))
	observability.RefreshDuration.Observe(p.clock.Now().Sub(started).Seconds())

	p.log.Info().Int("window", len(win)).Int("horizon", len(all)).Msg("refresh complete")
	if p.notifier != nil {
		p.notifier.WindowUpdated()
	}
	return nil
}

// collect fetches and parses every source with bounded concurrency,
// returning the merged raw events and the number of failed sources. One bad
// feed never abandons the cycle.
func (p *Pipeline) collect(ctx context.Context) ([]sourcedEvent, int) {
	type result struct {
		source string
		events []ics.RawEvent
		err    error
	}

	results := make([]result, len(p.sources))
	var wg sync.WaitGroup
	for i, src := range p.sources {
		wg.Add(1)
		go func(i int, src ics.Source) {
			defer wg.Done()
			events, err := p.fetchSource(ctx, src)
			results[i] = result{source: src.Name, events: events, err: err}
		}(i, src)
	}
	wg.Wait()

	var merged []sourcedEvent
	failures := 0
	for _, res := range results {
		if res.err != nil {
			failures++
			p.log.Warn().Err(res.err).Str("source", res.source).Msg("source failed, continuing with others")
			continue
		}
		for _, ev := range res.events {
			merged = append(merged, sourcedEvent{source: res.source, event: ev})
		}
	}
	return merged, failures
}

type sourcedEvent struct {
	source string
	event  ics.RawEvent
}

func (p *Pipeline) fetchSource(ctx context.Context, src ics.Source) ([]ics.RawEvent, error) {
	p.stateMu.Lock()
	st, ok := p.state[src.Name]
	if !ok {
		st = &sourceState{}
		p.state[src.Name] = st
	}
	cond := st.cond
	p.stateMu.Unlock()

	res, err := p.fetcher.Fetch(ctx, src, cond)
	if err != nil {
		return nil, err
	}

	if res.NotModified {
		p.stateMu.Lock()
		cached := st.events
		p.stateMu.Unlock()
		return cached, nil
	}

	events, err := ics.Parse(src.Name, res.Content)
	if err != nil {
		return nil, err
	}

	p.stateMu.Lock()
	st.cond = ics.Conditional{ETag: res.ETag, LastModified: res.LastModified}
	st.events = events
	p.stateMu.Unlock()
	return events, nil
}

// normalize expands recurrences and converts occurrences into sorted,
// UTC-canonical window events. Past occurrences whose end has also passed
// are dropped; in-progress events stay for done-for-day awareness.
func (p *Pipeline) normalize(raw []sourcedEvent, now time.Time) []window.Event {
	seen := make(map[string]bool)
	var all []window.Event

	for _, se := range raw {
		occs := ics.Expand([]ics.RawEvent{se.event}, now, p.expansionDays, p.log)
		for _, occ := range occs {
			ev := window.Event{
				Subject:         occ.Summary,
				Start:           occ.Start.UTC(),
				Location:        occ.Location,
				IsOnlineMeeting: occ.Online,
				RawSource:       se.source,
				AllDay:          occ.AllDay,
				Cancelled:       occ.Cancelled,
			}

			switch {
			case occ.End.After(occ.Start):
				ev.DurationSeconds = int64(occ.End.Sub(occ.Start).Seconds())
			case occ.Duration > 0:
				ev.DurationSeconds = int64(occ.Duration.Seconds())
			default:
				ev.DurationSeconds = fallbackDurationSeconds
			}

			ev.MeetingID = meetingID(se.source, se.event, occ, seen)
			seen[ev.MeetingID] = true

			if ev.End().Before(now) {
				continue
			}
			all = append(all, ev.Normalize())
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all
}

// meetingID keeps ids unique within one refresh output: the feed UID when
// unique, otherwise (recurring occurrences, missing UIDs) the id is
// qualified with the occurrence start.
func meetingID(source string, base ics.RawEvent, occ ics.Occurrence, seen map[string]bool) string {
	startISO := occ.Start.UTC().Format(time.RFC3339)
	id := base.UID
	if id == "" {
		id = source + "|" + startISO
	}
	if seen[id] {
		id = id + "|" + startISO
	}
	return id
}
