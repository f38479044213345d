// pkg/lti/deeplink_test.go
package lti

import (
	"errors"
	"regexp"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

var jwtFieldRe = regexp.MustCompile(`name="JWT" value="([^"]+)"`)

func TestCreateDeepLinkResponse(t *testing.T) {
	e, st := newTestOIDC(t)
	consumer, toolKey := seedConsumer13(t, st, "ck13", store.Consumer{
		Name:         "Canvas",
		ClientID:     "client-1",
		PlatformID:   "https://platform.example.com",
		DeploymentID: "dep-1",
	})

	page, err := e.CreateDeepLinkResponse(t.Context(), consumer, "https://platform.example.com/dl/return", "res-9", "Quiz 9")
	if err != nil {
		t.Fatalf("CreateDeepLinkResponse: %v", err)
	}

	m := jwtFieldRe.FindSubmatch(page)
	if m == nil {
		t.Fatalf("page has no JWT field:\n%s", page)
	}
	parsed, err := jwt.Parse(string(m[1]), func(tk *jwt.Token) (any, error) { return &toolKey.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(fixedNow))
	if err != nil {
		t.Fatalf("parsing deep link JWT: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)

	if claims["iss"] != "client-1" || claims["aud"] != "https://platform.example.com" {
		t.Errorf("iss/aud = %v/%v", claims["iss"], claims["aud"])
	}
	if claims[ltiClaimMessageType] != msgTypeDeepLinkReply || claims[ltiClaimVersion] != ltiVersion13 {
		t.Errorf("message type/version = %v/%v", claims[ltiClaimMessageType], claims[ltiClaimVersion])
	}
	if claims[ltiClaimDeployment] != "dep-1" {
		t.Errorf("deployment = %v", claims[ltiClaimDeployment])
	}

	items, _ := claims[dlClaimContentItems].([]any)
	if len(items) != 1 {
		t.Fatalf("content items = %v", claims[dlClaimContentItems])
	}
	item, _ := items[0].(map[string]any)
	if item["type"] != deepLinkContentTypeLTI || item["title"] != "Quiz 9" || item["url"] != e.Tool.LaunchURL() {
		t.Errorf("content item = %v", item)
	}
	custom, _ := item["custom"].(map[string]any)
	if custom["custom_id"] != "res-9" {
		t.Errorf("custom = %v", custom)
	}
}

func TestCreateDeepLinkResponseValidation(t *testing.T) {
	e, st := newTestOIDC(t)
	consumer, _ := seedConsumer13(t, st, "ck13", store.Consumer{
		Name:       "Canvas",
		ClientID:   "client-1",
		PlatformID: "https://platform.example.com",
	})

	cases := []struct {
		name                 string
		returnURL, id, title string
		kind                 error
	}{
		{"no return url", "", "r", "t", ErrValidation},
		{"no id", "https://p/return", "", "t", ErrValidation},
		{"no title", "https://p/return", "r", "", ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.CreateDeepLinkResponse(t.Context(), consumer, tc.returnURL, tc.id, tc.title)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("got %v, want %v", err, tc.kind)
			}
		})
	}

	t.Run("not an lti13 consumer", func(t *testing.T) {
		c10 := store.Consumer{Key: "old", LTI13: false}
		_, err := e.CreateDeepLinkResponse(t.Context(), c10, "https://p/return", "r", "t")
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("got %v, want configuration error", err)
		}
	})
}
