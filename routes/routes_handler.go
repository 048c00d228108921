package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/po-studio/negotiator/signaling"
)

type Options struct {
	// APIKey, when set, is required in the X-API-Key header of every
	// signaling request. Static files stay public.
	APIKey    string
	StaticDir string
	// Healthy reports the state of optional components such as the
	// embedded TURN relay. Nil means always healthy.
	Healthy func() bool
}

func NewRouter(h *signaling.Handler, opts Options) *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/health", healthCheck(opts.Healthy)).Methods("GET")

	api := router.NewRoute().Subrouter()
	if opts.APIKey != "" {
		api.Use(requireAPIKey(opts.APIKey))
	}

	// starts a new session and returns its offer with gathered candidates
	api.HandleFunc("/request_offer", h.HandleRequestOffer).Methods("POST")

	// browser answer for the offer above
	api.HandleFunc("/provide_answer", h.HandleProvideAnswer).Methods("POST")

	// trickled remote candidates, one per request
	api.HandleFunc("/add_ice_candidate/{mline}", h.HandleAddICECandidate).Methods("POST")

	// browser-initiated negotiation: remote offer in, answer out
	api.HandleFunc("/provide_offer", h.HandleProvideOffer).Methods("POST")

	api.HandleFunc("/stop", h.HandleStop).Methods("POST")
	api.HandleFunc("/session", h.HandleSession).Methods("GET")
	api.HandleFunc("/config", h.HandleConfig).Methods("GET")
	api.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	if opts.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.StaticDir))).Methods("GET", "HEAD")
	}

	return router
}

func healthCheck(healthy func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil && !healthy() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
