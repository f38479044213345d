// internal/api/http/consumer_handlers.go
package http

import (
	"io"
	"net/http"

	"github.com/edulinx/ltikit/pkg/lti"
)

// GradeHandler receives Basic Outcomes POSTs from tools this application
// launched out to. The POX protocol reports failures inside a 200
// response, so the handler always answers 200 with whatever envelope the
// consumer engine built.
func GradeHandler(consumer *lti.Consumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "unreadable request body", http.StatusBadRequest)
			return
		}
		resp := consumer.HandleBasicOutcomes(r, body)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(resp)
	}
}
