package httpserver

import (
	"encoding/json"
	"net/http"
)

// errorBody is the uniform error envelope: detail always, phase/
// suggestion/status for multi-step flows.
type errorBody struct {
	Detail     string `json:"detail"`
	Phase      string `json:"phase,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Status     string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeStepError(w http.ResponseWriter, status int, phase, detail, suggestion string) {
	writeJSON(w, status, errorBody{Detail: detail, Phase: phase, Suggestion: suggestion, Status: "error"})
}

// decodeBody parses a JSON request body into v, translating the size-cap
// error from MaxBytesReader into 413 and anything else into 400. Reports
// whether decoding succeeded; on failure the response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if _, ok := err.(*http.MaxBytesError); ok {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
