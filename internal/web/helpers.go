package web

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/agentos-dev/agentos/internal/fault"
)

// corsMiddleware adds CORS headers to all responses and handles OPTIONS
// preflight. The browser UI is served from a different origin in dev.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault maps an error to its HTTP status and the {error, kind} body.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	if status >= 500 {
		log.Printf("http: %v", err)
	}
	writeJSON(w, status, struct {
		Error string     `json:"error"`
		Kind  fault.Kind `json:"kind"`
	}{Error: err.Error(), Kind: kind})
}

// decodeBody decodes a JSON request body into v, refusing unknown noise.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.BadRequest, "decoding request body", err)
	}
	return nil
}
