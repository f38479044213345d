// pkg/lti/launch.go
package lti

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Launch orchestrator.

Both protocol engines end in the same place: a normalized LaunchData (or
DeeplinkData) handed to the embedding application's callback, which
answers with a redirect URL. The dispatch rule is the request body
itself: id_token means LTI 1.3, oauth_consumer_key means LTI 1.0,
neither is an error.

Tool-consumer info reported by the platform (product, version, guid,
name) is advisory. When it drifts from what the Consumer row records,
the drift is logged at warning level and persisted; it never rejects a
launch.
*/

// LaunchData is the protocol-neutral view of a validated resource-link
// launch. OutcomeURL/OutcomeID drive Basic Outcomes passback for 1.0;
// OutcomeURL/OutcomeAGS drive AGS for 1.3.
type LaunchData struct {
	LaunchType  string // "lti1.0" or "lti1.3"
	ConsumerKey string

	CourseID    string
	CourseLabel string
	CourseName  string

	AssignmentID    string
	AssignmentLTIID string
	AssignmentName  string

	ReturnURL  string
	OutcomeURL string
	OutcomeID  string
	OutcomeAGS string // serialized AGS endpoint claim, 1.3 only

	UserLISID      string
	UserSub        string
	UserEmail      string
	UserName       string
	UserGivenName  string
	UserFamilyName string
	UserImage      string
	UserRoles      []string

	Custom map[string]string
}

// DeeplinkData is the normalized view of an LtiDeepLinkingRequest launch.
type DeeplinkData struct {
	LaunchType  string // "lti1.3deeplink"
	ConsumerKey string

	CourseID    string
	CourseLabel string
	CourseName  string

	ReturnURL string

	UserLISID      string
	UserSub        string
	UserEmail      string
	UserName       string
	UserGivenName  string
	UserFamilyName string
	UserImage      string
	UserRoles      []string

	Custom map[string]string

	DeepLinkReturnURL string
}

// Launcher ties the two engines to the embedding application's callbacks.
type Launcher struct {
	OAuth1    *OAuth1
	OIDC      *OIDC
	Consumers store.ConsumerStore
	Tool      Tool
	Log       *logrus.Logger
}

func (l *Launcher) log() *logrus.Entry { return ltilog.LTI(l.Log) }

// Launch validates an inbound launch POST and returns the redirect URL
// produced by the matching callback.
func (l *Launcher) Launch(ctx context.Context, r *http.Request) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", Validationf("unparseable launch body: %v", err)
	}
	switch {
	case r.PostForm.Get("id_token") != "":
		return l.launch13(ctx, r)
	case r.PostForm.Get("oauth_consumer_key") != "":
		return l.launch10(ctx, r)
	default:
		return "", Validationf("launch has neither id_token nor oauth_consumer_key")
	}
}

func (l *Launcher) launch10(ctx context.Context, r *http.Request) (string, error) {
	launchURL := strings.TrimRight(l.Tool.Domain, "/") + r.URL.RequestURI()
	if _, err := l.OAuth1.ValidateLaunch(ctx, launchURL, r.PostForm); err != nil {
		return "", err
	}
	p := r.PostForm

	consumer, err := l.updateLMS(ctx, p.Get("oauth_consumer_key"),
		p.Get("tool_consumer_info_product_family_code"),
		p.Get("tool_consumer_instance_guid"),
		p.Get("tool_consumer_instance_name"),
		p.Get("tool_consumer_info_version"))
	if err != nil {
		return "", err
	}

	custom := map[string]string{}
	for k := range p {
		if strings.HasPrefix(k, "custom_") {
			custom[k] = p.Get(k)
		}
	}

	data := &LaunchData{
		LaunchType:      "lti1.0",
		ConsumerKey:     p.Get("oauth_consumer_key"),
		CourseID:        p.Get("context_id"),
		CourseLabel:     p.Get("context_label"),
		CourseName:      p.Get("context_title"),
		AssignmentID:    p.Get("resource_link_id"),
		AssignmentLTIID: p.Get("ext_lti_assignment_id"),
		AssignmentName:  p.Get("resource_link_title"),
		ReturnURL:       p.Get("launch_presentation_return_url"),
		OutcomeURL:      p.Get("lis_outcome_service_url"),
		OutcomeID:       p.Get("lis_result_sourcedid"),
		UserLISID:       p.Get("user_id"),
		UserEmail:       p.Get("lis_person_contact_email_primary"),
		UserName:        p.Get("lis_person_name_full"),
		UserGivenName:   p.Get("lis_person_name_given"),
		UserFamilyName:  p.Get("lis_person_name_family"),
		UserImage:       p.Get("user_image"),
		UserRoles:       splitRoles(p.Get("roles")),
		Custom:          custom,
	}
	return l.runLaunch(ctx, data, consumer, r)
}

func (l *Launcher) launch13(ctx context.Context, r *http.Request) (string, error) {
	claims, err := l.OIDC.VerifyLaunchToken(ctx, r.PostForm)
	if err != nil {
		return "", err
	}

	key, _ := claims["key"].(string)
	platform := claimMap(claims, ltiClaimToolPlat)
	consumer, err := l.updateLMS(ctx, key,
		mapStr(platform, "product_family_code"),
		mapStr(platform, "guid"),
		mapStr(platform, "name"),
		mapStr(platform, "version"))
	if err != nil {
		return "", err
	}

	contextClaim := claimMap(claims, ltiClaimContext)
	lti1p1 := claimMap(claims, ltiClaimLTI1p1)

	switch mt, _ := claims[ltiClaimMessageType].(string); mt {
	case msgTypeResourceLink:
		endpoint := claimMap(claims, agsClaimEndpoint)
		var outcomeAGS string
		if endpoint != nil {
			b, _ := json.Marshal(endpoint)
			outcomeAGS = string(b)
		}
		resourceLink := claimMap(claims, ltiClaimResource)
		data := &LaunchData{
			LaunchType:      "lti1.3",
			ConsumerKey:     key,
			CourseID:        mapStr(contextClaim, "id"),
			CourseLabel:     mapStr(contextClaim, "label"),
			CourseName:      mapStr(contextClaim, "title"),
			AssignmentID:    mapStr(lti1p1, "resource_link_id"),
			AssignmentLTIID: mapStr(resourceLink, "id"),
			AssignmentName:  mapStr(resourceLink, "title"),
			ReturnURL:       mapStr(claimMap(claims, ltiClaimLaunchPresentation), "return_url"),
			OutcomeURL:      mapStr(endpoint, "lineitem"),
			OutcomeAGS:      outcomeAGS,
			UserLISID:       mapStr(lti1p1, "user_id"),
			UserSub:         claimStr(claims, "sub"),
			UserEmail:       claimStr(claims, "email"),
			UserName:        claimStr(claims, "name"),
			UserGivenName:   claimStr(claims, "given_name"),
			UserFamilyName:  claimStr(claims, "family_name"),
			UserImage:       claimStr(claims, "picture"),
			UserRoles:       claimStrings(claims, ltiClaimRoles),
			Custom:          stringMap(claimMap(claims, ltiClaimCustom)),
		}
		return l.runLaunch(ctx, data, consumer, r)

	case msgTypeDeepLink:
		settings := claimMap(claims, dlClaimSettings)
		returnURL := mapStr(settings, "deep_link_return_url")
		if returnURL == "" {
			return "", Validationf("deep linking launch has no deep_link_return_url")
		}
		data := &DeeplinkData{
			LaunchType:        "lti1.3deeplink",
			ConsumerKey:       key,
			CourseID:          mapStr(contextClaim, "id"),
			CourseLabel:       mapStr(contextClaim, "label"),
			CourseName:        mapStr(contextClaim, "title"),
			ReturnURL:         mapStr(claimMap(claims, ltiClaimLaunchPresentation), "return_url"),
			UserLISID:         mapStr(lti1p1, "user_id"),
			UserSub:           claimStr(claims, "sub"),
			UserEmail:         claimStr(claims, "email"),
			UserName:          claimStr(claims, "name"),
			UserGivenName:     claimStr(claims, "given_name"),
			UserFamilyName:    claimStr(claims, "family_name"),
			UserImage:         claimStr(claims, "picture"),
			UserRoles:         claimStrings(claims, ltiClaimRoles),
			Custom:            stringMap(claimMap(claims, ltiClaimCustom)),
			DeepLinkReturnURL: returnURL,
		}
		return l.runDeeplink(ctx, data, consumer, r)

	default:
		return "", Validationf("unsupported LTI message type %q", mt)
	}
}

func (l *Launcher) runLaunch(ctx context.Context, data *LaunchData, consumer store.Consumer, r *http.Request) (string, error) {
	l.log().WithField("key", data.ConsumerKey).Info("handling launch")
	if l.Tool.HandleLaunch == nil {
		return "", Configf("no HandleLaunch callback configured")
	}
	return l.Tool.HandleLaunch(ctx, data, consumer, r)
}

func (l *Launcher) runDeeplink(ctx context.Context, data *DeeplinkData, consumer store.Consumer, r *http.Request) (string, error) {
	l.log().WithField("key", data.ConsumerKey).Info("handling deep link")
	if l.Tool.HandleDeeplink == nil {
		return "", Configf("no HandleDeeplink callback configured")
	}
	return l.Tool.HandleDeeplink(ctx, data, consumer, r)
}

// updateLMS reconciles observed tool-consumer info with the stored
// Consumer. Drift is logged and persisted, never rejected.
func (l *Launcher) updateLMS(ctx context.Context, key, product, guid, name, version string) (store.Consumer, error) {
	consumer, err := l.Consumers.GetConsumerByKey(ctx, key)
	if err != nil {
		return store.Consumer{}, Trustf("no consumer for key %q", key)
	}

	prior := logrus.Fields{}
	updated := logrus.Fields{}
	if consumer.TCProduct != product {
		prior["tc_product"], updated["tc_product"] = consumer.TCProduct, product
		consumer.TCProduct = product
	}
	if consumer.TCVersion != version {
		prior["tc_version"], updated["tc_version"] = consumer.TCVersion, version
		consumer.TCVersion = version
	}
	if consumer.TCGUID != guid {
		prior["tc_guid"], updated["tc_guid"] = consumer.TCGUID, guid
		consumer.TCGUID = guid
	}
	if consumer.TCName != name {
		prior["tc_name"], updated["tc_name"] = consumer.TCName, name
		consumer.TCName = name
	}
	if len(updated) > 0 {
		l.log().WithField("key", key).Warn("tool consumer data changed")
		l.log().WithFields(prior).Warn("old tool consumer data")
		l.log().WithFields(updated).Warn("new tool consumer data")
		if err := l.Consumers.UpdateConsumer(ctx, consumer); err != nil {
			return store.Consumer{}, err
		}
	}
	return consumer, nil
}

/* ------------------------------ claim helpers ------------------------------ */

func claimMap(claims jwt.MapClaims, uri string) map[string]any {
	m, _ := claims[uri].(map[string]any)
	return m
}

func claimStr(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func mapStr(m map[string]any, name string) string {
	if m == nil {
		return ""
	}
	s, _ := m[name].(string)
	return s
}

func claimStrings(claims jwt.MapClaims, uri string) []string {
	raw, _ := claims[uri].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(m map[string]any) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func splitRoles(roles string) []string {
	if roles == "" {
		return nil
	}
	parts := strings.Split(roles, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
