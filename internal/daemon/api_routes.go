package daemon

import "net/http"

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/api/sessions", a.Sessions)
	mux.HandleFunc("/api/sessions/", a.SessionByID)
	mux.HandleFunc("/api/observe", a.Observe)
	mux.HandleFunc("/api/shutdown", a.ShutdownDaemon)
}
