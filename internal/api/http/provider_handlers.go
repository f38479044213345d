// internal/api/http/provider_handlers.go
package http

import (
	"net/http"

	"github.com/edulinx/ltikit/pkg/lti"
)

/*
Tool-side (provider) endpoints: the surface a platform talks to when it
launches users into this application. Login and launch carry the LTI 1.3
flow; launch also accepts signed LTI 1.0 posts. JWKS, dynamic
registration and the legacy cartridge XML cover installation.
*/

// LoginHandler serves the OIDC third-party-initiated login. Platforms
// may GET or POST it; parameters are read from both query and body.
func LoginHandler(oidc *lti.OIDC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "unparseable login request", http.StatusBadRequest)
			return
		}
		redirect, err := oidc.BuildLoginRequest(r.Context(), r.Form)
		if err != nil {
			writeErr(w, err)
			return
		}
		lti.WriteAutoPostForm(w, redirect.URL, redirect.Form)
	}
}

// LaunchHandler validates an inbound launch (either protocol) and sends
// the browser to wherever the application's callback decides.
func LaunchHandler(launcher *lti.Launcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := launcher.Launch(r.Context(), r)
		if err != nil {
			writeErr(w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// JWKSHandler publishes the tool's public keys.
func JWKSHandler(oidc *lti.OIDC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := oidc.ConsumerJWKS(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// RegisterHandler runs platform-initiated dynamic registration. On
// success it answers with the IMS close message so the platform's
// registration window knows to shut itself.
func RegisterHandler(oidc *lti.OIDC) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "unparseable registration request", http.StatusBadRequest)
			return
		}
		if _, err := oidc.DynamicRegistration(r.Context(), r.Form); err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!doctype html>
<html><body>Registration complete.<script>
(window.opener || window.parent).postMessage({subject: "org.imsglobal.lti.close"}, "*");
</script></body></html>`))
	}
}

// CartridgeHandler serves the LTI 1.0 configuration XML.
func CartridgeHandler(tool lti.Tool) http.HandlerFunc {
	body := lti.BuildCartridgeXML(tool)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(body)
	}
}
