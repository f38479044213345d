// internal/api/http/httputil.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edulinx/ltikit/pkg/lti"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

// writeErr maps the engine's error kinds onto HTTP status codes. The
// message is the error text; launch-facing handlers that must answer
// in-protocol (Basic Outcomes) do not go through here.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lti.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, lti.ErrTrust):
		status = http.StatusUnauthorized
	case errors.Is(err, lti.ErrReplay):
		status = http.StatusConflict
	case errors.Is(err, lti.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, lti.ErrConfiguration):
		status = http.StatusInternalServerError
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
