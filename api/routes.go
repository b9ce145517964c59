package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"showtime/handlers"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Storage  *handlers.StorageHandler
	Library  *handlers.LibraryHandler
	Video    *handlers.VideoHandler
	Metadata *handlers.MetadataHandler
}

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(r *mux.Router, h Handlers) {
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/library/index", h.Library.Index).Methods(http.MethodPost)
	api.HandleFunc("/library/index", h.Library.Stats).Methods(http.MethodGet)
	api.HandleFunc("/library/index", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/library/media", h.Library.ListMedia).Methods(http.MethodGet)
	api.HandleFunc("/library/media", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/library/media/{id}", h.Library.GetMedia).Methods(http.MethodGet)
	api.HandleFunc("/library/media/{id}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/library/clear", h.Library.Clear).Methods(http.MethodDelete)
	api.HandleFunc("/library/clear", handleOptions).Methods(http.MethodOptions)

	api.HandleFunc("/storage/browse", h.Storage.Browse).Methods(http.MethodGet)
	api.HandleFunc("/storage/browse", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/storage/stream", h.Video.StreamVideo).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/storage/stream", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/storage/list", h.Storage.List).Methods(http.MethodGet)
	api.HandleFunc("/storage/list", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/storage/connect", h.Storage.Connect).Methods(http.MethodPost)
	api.HandleFunc("/storage/connect", h.Storage.Disconnect).Methods(http.MethodDelete)
	api.HandleFunc("/storage/connect", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/storage/toggle", h.Storage.Toggle).Methods(http.MethodPost)
	api.HandleFunc("/storage/toggle", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/storage/init", h.Storage.Init).Methods(http.MethodPost)
	api.HandleFunc("/storage/init", handleOptions).Methods(http.MethodOptions)

	api.HandleFunc("/tmdb/search", h.Metadata.Search).Methods(http.MethodGet)
	api.HandleFunc("/tmdb/search", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/tmdb/metadata", h.Metadata.Details).Methods(http.MethodGet)
	api.HandleFunc("/tmdb/metadata", handleOptions).Methods(http.MethodOptions)

	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)

	// Runtime stats endpoint (localhost only)
	runtimeRouter := api.PathPrefix("/debug/runtime").Subrouter()
	runtimeRouter.Use(localhostOnlyMiddleware)
	runtimeRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heapAlloc":   m.HeapAlloc,
			"heapInuse":   m.HeapInuse,
			"heapObjects": m.HeapObjects,
			"numGC":       m.NumGC,
			"numCPU":      runtime.NumCPU(),
		})
	}).Methods(http.MethodGet)
}
