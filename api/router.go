package api

import "github.com/gorilla/mux"

// RegisterRoutes sets up the read-only status routes.
func RegisterRoutes(r *mux.Router, h *Handler) {
	// Pool totals plus the last heartbeat cycle report
	r.HandleFunc("/status", h.Status).Methods("GET")

	// Published commitment root for one epoch
	r.HandleFunc("/roots/{epoch}", h.Root).Methods("GET")

	// Relay directory enumeration
	r.HandleFunc("/relays", h.Relays).Methods("GET")

	// One relay's stake and released-to-date
	r.HandleFunc("/relays/{addr}", h.Relay).Methods("GET")
}
