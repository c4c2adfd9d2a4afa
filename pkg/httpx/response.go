package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteStatus writes a bare status code with an empty JSON body. WOPI
// responses signal most outcomes through the status code alone.
func WriteStatus(w http.ResponseWriter, code int) {
	WriteJSON(w, code, struct{}{})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// Required for responses that embed access tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
