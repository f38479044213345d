// internal/api/http/admin_handlers.go
package http

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/edulinx/ltikit/pkg/lti"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Admin surface: provisioning consumers (platforms that launch in) and
providers (tools we launch out to), key rotation, outbound launches and
manual grade posts. Everything here sits behind HTTP basic auth with a
bcrypt-hashed password; the secret material returned by create/rotate is
shown exactly once and never readable afterwards.
*/

// AdminAuth enforces basic auth against the configured user and bcrypt
// password hash.
func AdminAuth(user, passHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

/* ------------------------------ consumers -------------------------------- */

type consumerBody struct {
	Name         string `json:"name"`
	LTI13        bool   `json:"lti13"`
	ClientID     string `json:"client_id"`
	PlatformID   string `json:"platform_id"`
	DeploymentID string `json:"deployment_id"`
	KeysetURL    string `json:"keyset_url"`
	TokenURL     string `json:"token_url"`
	AuthURL      string `json:"auth_url"`

	// Only honored on create; generated when empty.
	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
}

func ListConsumersHandler(st store.ConsumerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListConsumers(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetConsumerHandler(st store.ConsumerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		c, err := st.GetConsumer(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func CreateConsumerHandler(reg *lti.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in consumerBody
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		c, ck, err := reg.CreateConsumer(r.Context(), store.Consumer{
			Name:         in.Name,
			LTI13:        in.LTI13,
			ClientID:     in.ClientID,
			PlatformID:   in.PlatformID,
			DeploymentID: in.DeploymentID,
			KeysetURL:    in.KeysetURL,
			TokenURL:     in.TokenURL,
			AuthURL:      in.AuthURL,
		}, in.Key, in.Secret)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"consumer": c,
			"key":      ck.Key,
			"secret":   ck.Secret,
		})
	}
}

func UpdateConsumerHandler(st store.ConsumerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		c, err := st.GetConsumer(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		var in consumerBody
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		c.Name = in.Name
		c.LTI13 = in.LTI13
		c.ClientID = in.ClientID
		c.PlatformID = in.PlatformID
		c.DeploymentID = in.DeploymentID
		c.KeysetURL = in.KeysetURL
		c.TokenURL = in.TokenURL
		c.AuthURL = in.AuthURL
		if err := st.UpdateConsumer(r.Context(), c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func DeleteConsumerHandler(st store.ConsumerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		if err := st.DeleteConsumer(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func RotateConsumerHandler(reg *lti.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		var in struct {
			Secret string `json:"secret"`
		}
		_ = decodeJSON(r, &in)
		ck, err := reg.RotateConsumerSecret(r.Context(), id, in.Secret)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"key":    ck.Key,
			"secret": ck.Secret,
		})
	}
}

/* ------------------------------ providers -------------------------------- */

type providerBody struct {
	Name       string            `json:"name"`
	LaunchURL  string            `json:"launch_url"`
	Domain     string            `json:"domain"`
	LTI13      bool              `json:"lti13"`
	Custom     map[string]string `json:"custom"`
	UseSection bool              `json:"use_section"`

	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
}

func ListProvidersHandler(st store.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := st.ListProviders(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetProviderHandler(st store.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		p, err := st.GetProvider(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func CreateProviderHandler(reg *lti.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in providerBody
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		p, pk, err := reg.CreateProvider(r.Context(), store.Provider{
			Name:       in.Name,
			LaunchURL:  in.LaunchURL,
			Domain:     in.Domain,
			LTI13:      in.LTI13,
			Custom:     in.Custom,
			UseSection: in.UseSection,
		}, in.Key, in.Secret)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"provider": p,
			"key":      pk.Key,
			"secret":   pk.Secret,
		})
	}
}

func UpdateProviderHandler(st store.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		p, err := st.GetProvider(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		var in providerBody
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		p.Name = in.Name
		p.LaunchURL = in.LaunchURL
		p.Domain = in.Domain
		p.LTI13 = in.LTI13
		p.Custom = in.Custom
		p.UseSection = in.UseSection
		if err := st.UpdateProvider(r.Context(), p); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func DeleteProviderHandler(st store.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		if err := st.DeleteProvider(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

/* -------------------------- launches and grades --------------------------- */

// ProviderLaunchHandler builds a signed outbound LTI 1.0 launch for a
// registered provider and answers with the auto-submitting form.
func ProviderLaunchHandler(consumer *lti.Consumer, st store.ProviderStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		var in struct {
			ReturnURL string             `json:"return_url"`
			Context   lti.LaunchContext  `json:"context"`
			Resource  lti.LaunchResource `json:"resource"`
			User      lti.LaunchUser     `json:"user"`
			Manager   bool               `json:"manager"`
			Gradebook string             `json:"gradebook_key"`
			Custom    map[string]string  `json:"custom"`
		}
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		p, err := st.GetProvider(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		pk, err := st.GetProviderKey(r.Context(), p.Key)
		if err != nil {
			writeErr(w, err)
			return
		}

		custom := map[string]string{}
		for k, v := range p.Custom {
			custom[k] = v
		}
		for k, v := range in.Custom {
			custom[k] = v
		}

		form, err := consumer.BuildLaunchForm(pk.Key, pk.Secret, p.LaunchURL, in.ReturnURL,
			in.Context, in.Resource, in.User, in.Manager, in.Gradebook, custom)
		if err != nil {
			writeErr(w, err)
			return
		}
		lti.WriteAutoPostForm(w, form.Action, form.Fields)
	}
}

// PostGradeHandler posts a normalized score back to the platform that
// launched us, over whichever passback protocol the launch recorded.
func PostGradeHandler(grader *lti.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			ConsumerKey string  `json:"consumer_key"`
			GradeURL    string  `json:"grade_url"`
			LMSGradeID  string  `json:"lms_grade_id"`
			UserSub     string  `json:"user_sub"`
			Score       float64 `json:"score"`

			User         string `json:"user,omitempty"`
			UserID       string `json:"user_id,omitempty"`
			Assignment   string `json:"assignment,omitempty"`
			AssignmentID string `json:"assignment_id,omitempty"`
		}
		if err := decodeJSON(r, &in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		err := grader.PostGrade(r.Context(), in.ConsumerKey, in.GradeURL, in.LMSGradeID, in.Score, in.UserSub,
			&lti.GradeDebug{User: in.User, UserID: in.UserID, Assignment: in.Assignment, AssignmentID: in.AssignmentID})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "posted"})
	}
}
