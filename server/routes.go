package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bencan1a/calendarBot-sub009/server/middleware"
)

// Routes builds the full handler tree. Only /api/alexa/* requires the bearer
// token; the dashboard and skip endpoints stay local-network-open.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.CORS)

	r.Get("/", a.handleDashboard)
	r.Get("/api/health", a.recoverHandler(a.handleHealth))
	r.Get("/api/whats-next", a.recoverHandler(a.handleWhatsNext))

	r.Post("/api/skip", a.recoverHandler(a.handleAddSkip))
	r.Delete("/api/skip", a.recoverHandler(a.handleClearSkips))
	r.Get("/api/clear_skips", a.recoverHandler(a.handleClearSkipsAndRefresh))

	r.Get("/api/dashboard/stream", a.handleDashboardStream)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/alexa", func(r chi.Router) {
		r.Use(middleware.BearerAuth(a.cfg.AlexaBearerToken))
		r.Get("/next-meeting", a.recoverHandler(a.handleNextMeeting))
		r.Get("/time-until-next", a.recoverHandler(a.handleTimeUntil))
		r.Get("/done-for-day", a.recoverHandler(a.handleDoneForDay))
		r.Get("/launch-summary", a.recoverHandler(a.handleLaunchSummary))
		r.Get("/morning-summary", a.recoverHandler(a.handleMorningSummary))
	})

	return r
}
