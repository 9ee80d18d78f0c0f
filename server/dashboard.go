package main

import (
	_ "embed"
	"net/http"
)

//go:embed static/index.html
var dashboardHTML []byte

// handleDashboard serves the single-file status page.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(dashboardHTML)
}
