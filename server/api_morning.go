package main

import (
	"net/http"
	"strconv"

	"github.com/bencan1a/calendarBot-sub009/server/morning"
)

// handleMorningSummary analyzes tomorrow morning (or an explicit date) over
// the full event horizon, not just the short window.
func (a *API) handleMorningSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := morning.Request{
		Date:        q.Get("date"),
		Timezone:    q.Get("timezone"),
		DetailLevel: q.Get("detail_level"),
	}
	if v := q.Get("prefer_ssml"); v != "" {
		req.PreferSSML, _ = strconv.ParseBool(v)
	}
	if v := q.Get("max_events"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "max_events must be an integer")
			return
		}
		req.MaxEvents = n
	}

	res, err := a.morning.Analyze(r.Context(), a.holder.AllEvents(), req)
	if err != nil {
		a.log.Error().Err(err).Msg("morning summary failed")
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}
