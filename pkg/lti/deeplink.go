// pkg/lti/deeplink.go
package lti

import (
	"bytes"
	"context"
	"html/template"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Deep Linking response (LTI 1.3).

After a deep-linking launch the tool answers by POSTing a signed
LtiDeepLinkingResponse JWT back to the platform's return URL from the
user's browser, so the reply is rendered as a self-submitting HTML form
carrying the JWT in the standard "JWT" field. The response offers a
single ltiResourceLink content item pointing at the tool's launch
endpoint, with the selected resource recorded in custom.custom_id.
*/

var deepLinkFormTpl = template.Must(template.New("dl").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Returning to course</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
  <input type="hidden" name="JWT" value="{{.JWT}}">
  <noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

// CreateDeepLinkResponse builds and signs the deep-linking response for
// the selected resource and returns the HTML page that submits it to
// returnURL.
func (e *OIDC) CreateDeepLinkResponse(ctx context.Context, consumer store.Consumer, returnURL, id, title string) ([]byte, error) {
	if returnURL == "" {
		return nil, Validationf("deep link: missing return URL")
	}
	if id == "" {
		return nil, Validationf("deep link: missing resource id")
	}
	if title == "" {
		return nil, Validationf("deep link: missing resource title")
	}
	if !consumer.LTI13 || consumer.ClientID == "" || consumer.PlatformID == "" {
		return nil, Configf("consumer %q is not a registered LTI 1.3 platform", consumer.Key)
	}

	claims := jwt.MapClaims{
		"iss":               consumer.ClientID,
		"aud":               consumer.PlatformID,
		"nonce":             e.token(),
		ltiClaimDeployment:  consumer.DeploymentID,
		ltiClaimMessageType: msgTypeDeepLinkReply,
		ltiClaimVersion:     ltiVersion13,
		dlClaimContentItems: []map[string]any{
			{
				"type":  deepLinkContentTypeLTI,
				"title": title,
				"url":   e.Tool.LaunchURL(),
				"window": map[string]any{
					"targetName": "_blank",
				},
				"custom": map[string]any{
					"custom_id": id,
				},
			},
		},
	}

	signed, err := e.SignToolToken(ctx, consumer.Key, claims)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := deepLinkFormTpl.Execute(&buf, map[string]string{
		"Action": returnURL,
		"JWT":    signed,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
