package main

import (
	"net/http"
	"os"
	"runtime"
	"time"
)

// handleHealth reports service liveness and refresh freshness. Degraded data
// (no successful refresh, or one older than 15 minutes) is a 503 so probes
// and the Alexa shim can tell stale answers from live ones.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := a.clock.Now()
	state := a.tracker.Snapshot()

	status := "ok"
	code := http.StatusOK
	if state.Degraded(now) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	var lastSuccessAge any
	if !state.LastSuccess.IsZero() {
		lastSuccessAge = int64(now.Sub(state.LastSuccess).Seconds())
	}

	taskStatus := "running"
	var heartbeatAge any
	if !state.Heartbeat.IsZero() {
		heartbeatAge = int64(now.Sub(state.Heartbeat).Seconds())
	}
	if state.RefreshStale(now) {
		taskStatus = "stale"
	}

	a.writeJSON(w, code, map[string]any{
		"status":          status,
		"server_time_iso": now.UTC().Format(time.RFC3339),
		"server_status": map[string]any{
			"uptime_s":    int64(now.Sub(state.ServerStart).Seconds()),
			"pid":         os.Getpid(),
			"instance_id": a.instanceID,
		},
		"data_status": map[string]any{
			"event_count":               state.EventCount,
			"last_refresh_success_age_s": lastSuccessAge,
		},
		"background_tasks": []map[string]any{
			{
				"name":                 "refresh",
				"status":               taskStatus,
				"last_heartbeat_age_s": heartbeatAge,
			},
		},
		"system_diagnostics": map[string]any{
			"platform":        runtime.GOOS + "/" + runtime.GOARCH,
			"runtime_version": runtime.Version(),
			"goroutines":      runtime.NumGoroutine(),
		},
	})
}
