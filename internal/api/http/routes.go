// internal/api/http/routes.go
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/config"
	"github.com/edulinx/ltikit/pkg/lti"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

// Deps carries everything the router mounts.
type Deps struct {
	Cfg config.Config
	Log *logrus.Logger

	Store    store.Store
	OIDC     *lti.OIDC
	Launcher *lti.Launcher
	Consumer *lti.Consumer
	Grader   *lti.Grader
	Registry *lti.Registry
	Tool     lti.Tool
}

// NewRouter assembles the full HTTP surface: the LTI endpoints under the
// tool route prefix and the admin API under /admin. Admin is mounted
// only when a password hash is configured.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route(d.Cfg.ToolRoutePrefix, func(lr chi.Router) {
		lr.Get("/login", LoginHandler(d.OIDC))
		lr.Post("/login", LoginHandler(d.OIDC))
		lr.Post("/launch", LaunchHandler(d.Launcher))
		lr.Get("/jwks", JWKSHandler(d.OIDC))
		lr.Get("/register", RegisterHandler(d.OIDC))
		lr.Post("/register", RegisterHandler(d.OIDC))
		lr.Get("/config.xml", CartridgeHandler(d.Tool))
		lr.Post("/grade", GradeHandler(d.Consumer))
	})

	if d.Cfg.AdminPassHash != "" {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(AdminAuth(d.Cfg.AdminUser, d.Cfg.AdminPassHash))

			ar.Get("/consumers", ListConsumersHandler(d.Store))
			ar.Post("/consumers", CreateConsumerHandler(d.Registry))
			ar.Get("/consumers/{id}", GetConsumerHandler(d.Store))
			ar.Put("/consumers/{id}", UpdateConsumerHandler(d.Store))
			ar.Delete("/consumers/{id}", DeleteConsumerHandler(d.Store))
			ar.Post("/consumers/{id}/rotate", RotateConsumerHandler(d.Registry))

			ar.Get("/providers", ListProvidersHandler(d.Store))
			ar.Post("/providers", CreateProviderHandler(d.Registry))
			ar.Get("/providers/{id}", GetProviderHandler(d.Store))
			ar.Put("/providers/{id}", UpdateProviderHandler(d.Store))
			ar.Delete("/providers/{id}", DeleteProviderHandler(d.Store))
			ar.Post("/providers/{id}/launch", ProviderLaunchHandler(d.Consumer, d.Store))

			ar.Post("/grade", PostGradeHandler(d.Grader))
		})
	} else if d.Log != nil {
		d.Log.Warn("ADMIN_PASS_HASH not set; admin API disabled")
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	return r
}
