// pkg/lti/registration.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Registration surfaces: the LTI 1.3 dynamic registration flow and the
legacy LTI 1.0 cartridge XML that platforms import by URL.

Dynamic registration is platform-initiated: the platform opens the tool's
registration endpoint with an openid_configuration URL and a one-time
registration_token. The tool fetches and validates the platform
configuration, provisions a Consumer row, and POSTs its own client
registration back. client_id and deployment_id stay empty until the
platform reports them; a failed registration is a hard error, never a
half-registered consumer treated as live.
*/

const canvasExt = "https://canvas.instructure.com/lti/"

// PlatformConfig is the validated subset of a platform's OpenID
// configuration document needed for registration.
type PlatformConfig struct {
	Issuer                string          `json:"issuer"`
	RegistrationEndpoint  string          `json:"registration_endpoint"`
	AuthorizationEndpoint string          `json:"authorization_endpoint"`
	TokenEndpoint         string          `json:"token_endpoint"`
	JWKSURI               string          `json:"jwks_uri"`
	Platform              ltiPlatformInfo `json:"https://purl.imsglobal.org/spec/lti-platform-configuration"`
}

type ltiPlatformInfo struct {
	ProductFamilyCode string `json:"product_family_code"`
	Version           string `json:"version"`
	CanvasAccountName string `json:"https://canvas.instructure.com/lti/account_name"`
}

// GetLMSDetails fetches and validates a platform's OpenID configuration.
// The registration endpoint must be rooted under the issuer; everything
// else must simply be present.
func (e *OIDC) GetLMSDetails(ctx context.Context, configURL string) (*PlatformConfig, error) {
	if configURL == "" {
		return nil, Validationf("missing openid_configuration URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, WrapUpstream(err, "building request for %s", configURL)
	}
	resp, err := e.client().Do(req)
	if err != nil {
		return nil, WrapUpstream(err, "fetching platform configuration %s", configURL)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, Upstreamf(string(body), "platform configuration %s returned %s", configURL, resp.Status)
	}

	var cfg PlatformConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, Upstreamf(string(body), "platform configuration %s is not valid JSON", configURL)
	}
	switch {
	case cfg.RegistrationEndpoint == "":
		return nil, Upstreamf(string(body), "platform configuration has no registration_endpoint")
	case cfg.Issuer == "":
		return nil, Upstreamf(string(body), "platform configuration has no issuer")
	case !strings.HasPrefix(cfg.RegistrationEndpoint, cfg.Issuer):
		return nil, Upstreamf(string(body), "registration_endpoint %q is not under issuer %q", cfg.RegistrationEndpoint, cfg.Issuer)
	case cfg.AuthorizationEndpoint == "":
		return nil, Upstreamf(string(body), "platform configuration has no authorization_endpoint")
	case cfg.TokenEndpoint == "":
		return nil, Upstreamf(string(body), "platform configuration has no token_endpoint")
	case cfg.JWKSURI == "":
		return nil, Upstreamf(string(body), "platform configuration has no jwks_uri")
	case cfg.Platform.ProductFamilyCode == "":
		return nil, Upstreamf(string(body), "platform configuration has no product_family_code")
	case cfg.Platform.Version == "":
		return nil, Upstreamf(string(body), "platform configuration has no platform version")
	}
	return &cfg, nil
}

// DynamicRegistration runs the full platform-initiated registration flow
// and returns the provisioned consumer. params carries the request query
// (openid_configuration, registration_token).
func (e *OIDC) DynamicRegistration(ctx context.Context, params url.Values) (store.Consumer, error) {
	details, err := e.GetLMSDetails(ctx, params.Get("openid_configuration"))
	if err != nil {
		return store.Consumer{}, err
	}

	name := details.Platform.ProductFamilyCode
	if details.Platform.CanvasAccountName != "" {
		name = details.Platform.CanvasAccountName
	}

	consumer, key, err := newConsumerMaterial(e.token, store.Consumer{
		Name:       name,
		LTI13:      true,
		PlatformID: details.Issuer,
		KeysetURL:  details.JWKSURI,
		TokenURL:   details.TokenEndpoint,
		AuthURL:    details.AuthorizationEndpoint,
	}, "", "")
	if err != nil {
		return store.Consumer{}, err
	}
	consumer, err = e.Consumers.CreateConsumer(ctx, consumer, key)
	if err != nil {
		return store.Consumer{}, fmt.Errorf("creating consumer for registration: %w", err)
	}

	payload := e.registrationPayload()
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, details.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return store.Consumer{}, WrapUpstream(err, "building registration request for %s", details.RegistrationEndpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := params.Get("registration_token"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := e.client().Do(req)
	if err != nil {
		e.log().WithField("url", details.RegistrationEndpoint).Error("dynamic registration transport failure")
		return store.Consumer{}, WrapUpstream(err, "registering with %s", details.RegistrationEndpoint)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		e.log().WithField("url", details.RegistrationEndpoint).
			Error("dynamic registration rejected: " + string(respBody))
		return store.Consumer{}, Upstreamf(string(respBody), "registration with %s returned %s", details.RegistrationEndpoint, resp.Status)
	}

	// The platform's response names the client_id it assigned and, for
	// platforms that report it, the deployment id.
	var reg struct {
		ClientID   string `json:"client_id"`
		ToolConfig struct {
			DeploymentID string `json:"deployment_id"`
		} `json:"https://purl.imsglobal.org/spec/lti-tool-configuration"`
	}
	if err := json.Unmarshal(respBody, &reg); err == nil {
		if reg.ClientID != "" {
			consumer.ClientID = reg.ClientID
		}
		if reg.ToolConfig.DeploymentID != "" {
			consumer.DeploymentID = reg.ToolConfig.DeploymentID
		}
		if reg.ClientID != "" || reg.ToolConfig.DeploymentID != "" {
			if err := e.Consumers.UpdateConsumer(ctx, consumer); err != nil {
				return store.Consumer{}, err
			}
		}
	}

	e.log().WithField("platform", details.Issuer).Info("registered with platform " + name)
	return consumer, nil
}

// privacyClaims maps the configured privacy level to the OIDC claims
// requested from the platform.
func privacyClaims(level string) []string {
	switch level {
	case "public":
		return []string{"iss", "sub", "name", "given_name", "family_name", "email", "picture"}
	case "name_only":
		return []string{"iss", "sub", "name"}
	case "email_only":
		return []string{"iss", "sub", "email"}
	default: // anonymous
		return []string{"iss", "sub"}
	}
}

func (e *OIDC) registrationPayload() map[string]any {
	t := e.Tool

	var messages []map[string]any
	if t.DeeplinkEnabled() {
		messages = append(messages, map[string]any{
			"type":             msgTypeDeepLink,
			"target_link_url":  t.LaunchURL(),
			"label":            t.Title,
			"icon_uri":         t.IconURL,
			"placements":       []string{canvasExt + "assignment_selection"},
			"supported_types":  []string{deepLinkContentTypeLTI},
			canvasExt + "visibility":   "admins",
			canvasExt + "display_type": "new_window",
		})
	}
	if t.Navigation {
		messages = append(messages, map[string]any{
			"type":            msgTypeResourceLink,
			"target_link_url": t.LaunchURL(),
			"label":           t.Title,
			"icon_uri":        t.IconURL,
			"placements":      []string{canvasExt + "course_navigation"},
			"supported_types": []string{deepLinkContentTypeLTI},
			canvasExt + "course_navigation/default_enabled": false,
			canvasExt + "visibility":                        "members",
			canvasExt + "display_type":                      "new_window",
		})
	}

	return map[string]any{
		"application_type":           "web",
		"response_types":             []string{"id_token"},
		"grant_types":                []string{"implicit", "client_credentials"},
		"initiate_login_uri":         t.LoginURL(),
		"redirect_uris":              []string{t.LaunchURL()},
		"client_name":                t.Title,
		"logo_uri":                   t.IconURL,
		"token_endpoint_auth_method": "private_key_jwt",
		"jwks_uri":                   t.JWKSURL(),
		"contacts":                   []string{t.ContactEmail},
		"scope":                      scopeAGSScore,
		toolConfigClaim: map[string]any{
			"domain":            t.BareDomain(),
			"description":       t.Description,
			"target_link_uri":   t.LaunchURL(),
			"custom_parameters": t.CustomParams,
			"claims":            privacyClaims(t.PrivacyLevel),
			"messages":          messages,
		},
	}
}

/* ------------------------- LTI 1.0 cartridge ------------------------------ */

// BuildCartridgeXML renders the legacy configuration XML platforms import
// to install the tool over LTI 1.0.
func BuildCartridgeXML(t Tool) []byte {
	var custom strings.Builder
	if len(t.CustomParams) > 0 {
		keys := make([]string, 0, len(t.CustomParams))
		for k := range t.CustomParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		custom.WriteString("  <blti:custom>\n")
		for _, k := range keys {
			fmt.Fprintf(&custom, "    <lticm:property name=\"%s\">%s</lticm:property>\n", xmlEscape(k), xmlEscape(t.CustomParams[k]))
		}
		custom.WriteString("  </blti:custom>\n")
	}

	var extras string
	if t.Navigation {
		extras = `    <lticm:options name="course_navigation">
      <lticm:property name="default">disabled</lticm:property>
      <lticm:property name="enabled">true</lticm:property>
      <lticm:property name="windowTarget">_blank</lticm:property>
    </lticm:options>
`
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<cartridge_basiclti_link xmlns="http://www.imsglobal.org/xsd/imslticc_v1p0"
  xmlns:blti="http://www.imsglobal.org/xsd/imsbasiclti_v1p0"
  xmlns:lticm="http://www.imsglobal.org/xsd/imslticm_v1p0"
  xmlns:lticp="http://www.imsglobal.org/xsd/imslticp_v1p0"
  xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
  xsi:schemaLocation="http://www.imsglobal.org/xsd/imslticc_v1p0 http://www.imsglobal.org/xsd/lti/ltiv1p0/imslticc_v1p0.xsd http://www.imsglobal.org/xsd/imsbasiclti_v1p0 http://www.imsglobal.org/xsd/lti/ltiv1p0/imsbasiclti_v1p0.xsd http://www.imsglobal.org/xsd/imslticm_v1p0 http://www.imsglobal.org/xsd/lti/ltiv1p0/imslticm_v1p0.xsd http://www.imsglobal.org/xsd/imslticp_v1p0 http://www.imsglobal.org/xsd/lti/ltiv1p0/imslticp_v1p0.xsd">
`)
	fmt.Fprintf(&b, "  <blti:title>%s</blti:title>\n", xmlEscape(t.Title))
	fmt.Fprintf(&b, "  <blti:description>%s</blti:description>\n", xmlEscape(t.Description))
	fmt.Fprintf(&b, "  <blti:icon>%s</blti:icon>\n", xmlEscape(t.IconURL))
	fmt.Fprintf(&b, "  <blti:launch_url>%s</blti:launch_url>\n", xmlEscape(t.LaunchURL()))
	b.WriteString(custom.String())
	b.WriteString("  <blti:extensions platform=\"canvas.instructure.com\">\n")
	fmt.Fprintf(&b, "    <lticm:property name=\"tool_id\">%s</lticm:property>\n", xmlEscape(t.ToolID))
	fmt.Fprintf(&b, "    <lticm:property name=\"privacy_level\">%s</lticm:property>\n", xmlEscape(t.PrivacyLevel))
	fmt.Fprintf(&b, "    <lticm:property name=\"domain\">%s</lticm:property>\n", xmlEscape(t.BareDomain()))
	b.WriteString(extras)
	b.WriteString("  </blti:extensions>\n")
	b.WriteString("  <cartridge_bundle identifierref=\"BLTI001_Bundle\"/>\n")
	b.WriteString("  <cartridge_icon identifierref=\"BLTI001_Icon\"/>\n")
	b.WriteString("</cartridge_basiclti_link>\n")
	return []byte(b.String())
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
