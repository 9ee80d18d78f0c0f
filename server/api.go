package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bencan1a/calendarBot-sub009/server/config"
	"github.com/bencan1a/calendarBot-sub009/server/health"
	"github.com/bencan1a/calendarBot-sub009/server/morning"
	"github.com/bencan1a/calendarBot-sub009/server/observability"
	"github.com/bencan1a/calendarBot-sub009/server/prioritizer"
	"github.com/bencan1a/calendarBot-sub009/server/refresh"
	"github.com/bencan1a/calendarBot-sub009/server/skipstore"
	"github.com/bencan1a/calendarBot-sub009/server/speech"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

// API wires the shared state into request handlers. Handlers are
// request-scoped: they read the window through a snapshot and mutate shared
// state only via the skip store.
type API struct {
	cfg        *config.Config
	holder     *window.Holder
	skips      *skipstore.Store
	tracker    *health.Tracker
	pipeline   *refresh.Pipeline
	morning    *morning.Analyzer
	clock      clockwork.Clock
	log        zerolog.Logger
	hub        *WindowHub
	instanceID string

	// Storm protection for the skip mutation endpoints.
	skipLimiter *rate.Limiter
}

func NewAPI(cfg *config.Config, holder *window.Holder, skips *skipstore.Store, tracker *health.Tracker, pipeline *refresh.Pipeline, analyzer *morning.Analyzer, clock clockwork.Clock, instanceID string, log zerolog.Logger) *API {
	api := &API{
		cfg:         cfg,
		holder:      holder,
		skips:       skips,
		tracker:     tracker,
		pipeline:    pipeline,
		morning:     analyzer,
		clock:       clock,
		log:         log.With().Str("component", "api").Logger(),
		instanceID:  instanceID,
		skipLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	api.hub = NewWindowHub(holder, tracker, clock, log)
	return api
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Error().Err(err).Msg("encoding response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

// recoverHandler converts a handler panic into the standard 500 envelope and
// logs the stack.
func (a *API) recoverHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				a.writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error":   "Internal server error",
					"message": fmt.Sprint(rec),
				})
			}
		}()
		next(w, r)
	}
}

func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()
	w.Header().Set("Retry-After", fmt.Sprintf("%d", 1+rand.Intn(2)))
	a.writeError(w, http.StatusTooManyRequests, "Too many requests")
}

// meetingPayload is the JSON body for a selected next meeting.
type meetingPayload struct {
	MeetingID         string `json:"meeting_id"`
	Subject           string `json:"subject"`
	StartISO          string `json:"start_iso"`
	SecondsUntilStart int64  `json:"seconds_until_start"`
	SpeechText        string `json:"speech_text"`
	DurationSpoken    string `json:"duration_spoken"`
	SSML              string `json:"ssml,omitempty"`
}

func (a *API) selectionPayload(sel *prioritizer.Selection, withSSML bool) *meetingPayload {
	spoken := speech.Duration(sel.SecondsUntil)
	text := fmt.Sprintf("Your next meeting is %s %s.", sel.Event.Subject, spoken)
	p := &meetingPayload{
		MeetingID:         sel.Event.MeetingID,
		Subject:           sel.Event.Subject,
		StartISO:          sel.Event.Start.UTC().Format(time.RFC3339),
		SecondsUntilStart: sel.SecondsUntil,
		SpeechText:        text,
		DurationSpoken:    spoken,
	}
	if withSSML {
		p.SSML = speech.SSML(text)
	}
	return p
}

// handleWhatsNext serves the unauthenticated next-event query. Nothing
// scheduled is not an error: the meeting field is simply null.
func (a *API) handleWhatsNext(w http.ResponseWriter, r *http.Request) {
	snapshot := a.holder.Snapshot()
	sel := prioritizer.Next(snapshot, a.clock.Now(), a.skips)
	if sel == nil {
		a.writeJSON(w, http.StatusOK, map[string]any{"meeting": nil})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"meeting": a.selectionPayload(sel, false)})
}

func (a *API) handleAddSkip(w http.ResponseWriter, r *http.Request) {
	if !a.skipLimiter.Allow() {
		a.writeRateLimitError(w, "skip")
		return
	}
	if a.skips == nil {
		a.writeError(w, http.StatusNotImplemented, "Skip store unavailable")
		return
	}

	var req struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MeetingID == "" {
		a.writeError(w, http.StatusBadRequest, "meeting_id is required")
		return
	}

	expiry, err := a.skips.Add(req.MeetingID)
	if err != nil {
		a.log.Error().Err(err).Str("meeting_id", req.MeetingID).Msg("persisting skip")
		a.writeError(w, http.StatusInternalServerError, "Failed to persist skip")
		return
	}
	observability.SkipEntries.Set(float64(len(a.skips.Active())))

	a.pipeline.Kick()
	a.writeJSON(w, http.StatusOK, map[string]string{
		"status":     "skipped",
		"meeting_id": req.MeetingID,
		"expires_at": expiry,
	})
}

func (a *API) handleClearSkips(w http.ResponseWriter, r *http.Request) {
	if !a.skipLimiter.Allow() {
		a.writeRateLimitError(w, "skip")
		return
	}
	if a.skips == nil {
		a.writeError(w, http.StatusNotImplemented, "Skip store unavailable")
		return
	}

	removed, err := a.skips.ClearAll()
	if err != nil {
		a.log.Error().Err(err).Msg("clearing skips")
		a.writeError(w, http.StatusInternalServerError, "Failed to clear skips")
		return
	}
	observability.SkipEntries.Set(0)

	a.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed})
}

// handleClearSkipsAndRefresh is the convenience GET used by the dashboard:
// clear everything, then force a refresh so unskipped meetings reappear.
func (a *API) handleClearSkipsAndRefresh(w http.ResponseWriter, r *http.Request) {
	if !a.skipLimiter.Allow() {
		a.writeRateLimitError(w, "skip")
		return
	}
	if a.skips == nil {
		a.writeError(w, http.StatusNotImplemented, "Skip store unavailable")
		return
	}

	removed, err := a.skips.ClearAll()
	if err != nil {
		a.log.Error().Err(err).Msg("clearing skips")
		a.writeError(w, http.StatusInternalServerError, "Failed to clear skips")
		return
	}
	observability.SkipEntries.Set(0)
	a.pipeline.Kick()

	a.writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed, "refresh": "requested"})
}
