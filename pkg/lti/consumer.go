// pkg/lti/consumer.go
package lti

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
)

/*
Consumer role: this application acting as the platform/LMS side,
launching users out to registered external tools over LTI 1.0 and
receiving their Basic Outcomes grade passback.
*/

// ConsumerConfig describes the application when it plays the consumer
// role. Domain and RoutePrefix locate the inbound grade endpoint;
// Product/Deployment fields populate the tool_consumer_* launch params.
type ConsumerConfig struct {
	Domain         string
	RoutePrefix    string
	ProductName    string
	ProductVersion string
	DeploymentID   string
	DeploymentName string
	ContactEmail   string

	// PostProviderGrade receives each validated replaceResult grade. The
	// keys are the four segments of the lis_result_sourcedid this
	// consumer minted at launch time.
	PostProviderGrade func(ctx context.Context, providerKey, contextKey, resourceKey, userKey, gradebookKey string, score float64, r *http.Request) error
}

// GradeURL is the Basic Outcomes endpoint advertised in outbound
// launches as lis_outcome_service_url.
func (c ConsumerConfig) GradeURL() string {
	return strings.TrimRight(c.Domain, "/") + c.RoutePrefix + "/grade"
}

// Consumer drives outbound LTI 1.0 launches and inbound Basic Outcomes.
type Consumer struct {
	Config ConsumerConfig
	OAuth1 *OAuth1

	Log    *logrus.Logger
	Now    func() time.Time
	Tokens TokenSource
}

func (c *Consumer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Consumer) token() string {
	if c.Tokens != nil {
		return c.Tokens.Token()
	}
	return CryptoTokenSource{}.Token()
}

func (c *Consumer) log() *logrus.Entry { return ltilog.LTI(c.Log) }

/* --------------------------- outbound launch ------------------------------ */

// LaunchContext identifies the course an outbound launch happens in.
type LaunchContext struct {
	Key   string
	Label string
	Name  string
}

// LaunchResource identifies the assignment or lesson being launched.
type LaunchResource struct {
	Key  string
	Name string
}

// LaunchUser identifies the person being sent to the tool.
type LaunchUser struct {
	Key        string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Image      string
}

// LaunchForm is a signed, ready-to-POST LTI 1.0 launch.
type LaunchForm struct {
	Action string
	Fields url.Values
}

// BuildLaunchForm assembles and signs the form an LTI 1.0 launch POSTs to
// launchURL. gradebookKey becomes the fourth segment of the
// lis_result_sourcedid the tool must echo back in grade passback.
func (c *Consumer) BuildLaunchForm(key, secret, launchURL, returnURL string, lc LaunchContext, res LaunchResource, user LaunchUser, manager bool, gradebookKey string, custom map[string]string) (*LaunchForm, error) {
	switch {
	case key == "" || secret == "":
		return nil, Configf("launch form needs a provider key and secret")
	case launchURL == "":
		return nil, Configf("launch form needs a launch URL")
	case returnURL == "":
		return nil, Configf("launch form needs a return URL")
	case lc.Key == "" || lc.Label == "" || lc.Name == "":
		return nil, Validationf("launch form needs a context with key, label and name")
	case res.Key == "" || res.Name == "":
		return nil, Validationf("launch form needs a resource with key and name")
	case user.Key == "" || user.Email == "":
		return nil, Validationf("launch form needs a user with key and email")
	case gradebookKey == "":
		return nil, Validationf("launch form needs a gradebook key")
	}

	roles := "Learner"
	if manager {
		roles = "Instructor"
	}

	form := url.Values{}
	form.Set("oauth_consumer_key", key)
	form.Set("oauth_signature_method", oauthSignatureMethod)
	form.Set("oauth_timestamp", strconv.FormatInt(c.now().Unix(), 10))
	form.Set("oauth_nonce", c.token())
	form.Set("oauth_version", "1.0")
	form.Set("oauth_callback", oauthCallbackValue)
	form.Set("lti_message_type", "basic-lti-launch-request")
	form.Set("lti_version", "LTI-1p0")
	form.Set("context_id", lc.Key)
	form.Set("context_label", lc.Label)
	form.Set("context_title", lc.Name)
	form.Set("launch_presentation_document_target", "iframe")
	form.Set("launch_presentation_locale", "en")
	form.Set("launch_presentation_return_url", returnURL)
	form.Set("lis_outcome_service_url", c.Config.GradeURL())
	form.Set("lis_result_sourcedid", strings.Join([]string{lc.Key, res.Key, user.Key, gradebookKey}, ":"))
	form.Set("lis_person_contact_email_primary", user.Email)
	form.Set("lis_person_name_family", user.FamilyName)
	form.Set("lis_person_name_full", user.Name)
	form.Set("lis_person_name_given", user.GivenName)
	form.Set("resource_link_id", res.Key)
	form.Set("resource_link_title", res.Name)
	form.Set("roles", roles)
	form.Set("tool_consumer_info_product_family_code", c.Config.ProductName)
	form.Set("tool_consumer_info_version", c.Config.ProductVersion)
	form.Set("tool_consumer_instance_contact_email", c.Config.ContactEmail)
	form.Set("tool_consumer_instance_guid", c.Config.DeploymentID)
	form.Set("tool_consumer_instance_name", c.Config.DeploymentName)
	form.Set("user_id", user.Key)
	form.Set("user_image", user.Image)

	for k, v := range custom {
		if strings.HasPrefix(k, "custom_") {
			form.Set(k, v)
		} else {
			form.Set("custom_"+k, v)
		}
	}

	sig, err := Sign(oauthSignatureMethod, "POST", launchURL, form, secret)
	if err != nil {
		return nil, err
	}
	form.Set("oauth_signature", sig)

	c.log().WithField("url", launchURL).Info("generated launch form")
	return &LaunchForm{Action: launchURL, Fields: form}, nil
}

/* --------------------------- inbound outcomes ----------------------------- */

// HandleBasicOutcomes processes an inbound Basic Outcomes POST and
// returns the POX response body to send back with HTTP 200. Protocol
// failures are reported inside the envelope, as the wire format demands,
// never as transport errors.
func (c *Consumer) HandleBasicOutcomes(r *http.Request, rawBody []byte) []byte {
	ctx := r.Context()
	c.log().Info("handling basic outcomes request")

	requestURL := strings.TrimRight(c.Config.Domain, "/") + r.URL.RequestURI()
	providerKey, _, err := c.OAuth1.ValidateBodySignature(ctx, r.Header.Get("Authorization"), rawBody, requestURL)
	if err != nil {
		c.log().Warn("basic outcomes validation failed: " + err.Error())
		return BuildOutcomeResponse("failure", "invalidtargetdatafail", err.Error(), "", "", false)
	}

	messageID, ops, err := parseOutcomeRequest(rawBody)
	if err != nil {
		c.log().Warn("basic outcomes envelope invalid: " + err.Error())
		return BuildOutcomeResponse("failure", "invalidtargetdatafail", err.Error(), "", "", false)
	}

	var opName string
	for _, op := range ops {
		if strings.HasSuffix(strings.ToLower(op), "request") {
			opName = op
			break
		}
	}
	if !strings.EqualFold(opName, "replaceResultRequest") {
		opType := "unknown"
		if opName != "" {
			opType = opName[:len(opName)-len("request")]
		}
		c.log().Warn("unsupported outcomes operation: " + opType)
		return BuildOutcomeResponse("unsupported", "status",
			"The operation "+opType+" is not supported by this LTI Tool Consumer", messageID, opName, false)
	}

	return c.replaceResult(ctx, rawBody, providerKey, messageID, r)
}

func (c *Consumer) replaceResult(ctx context.Context, rawBody []byte, providerKey, messageID string, r *http.Request) []byte {
	score, sourcedID, err := parseReplaceResult(rawBody)
	if err != nil {
		c.log().Warn("replaceResult validation failed: " + err.Error())
		return BuildOutcomeResponse("failure", "invalidtargetdatafail", err.Error(), messageID, "replaceResult", false)
	}

	segments := strings.Split(sourcedID, ":")
	if len(segments) != 4 {
		c.log().Warn("replaceResult sourcedid " + sourcedID + " does not have 4 parts")
		return BuildOutcomeResponse("failure", "invalididfail",
			"Invalid Source ID "+sourcedID+" - expected 4 parts", messageID, "replaceResult", false)
	}

	if c.Config.PostProviderGrade == nil {
		return BuildOutcomeResponse("failure", "processingfail",
			"Failed to Post Grade: no grade handler configured", messageID, "replaceResult", false)
	}
	if err := c.Config.PostProviderGrade(ctx, providerKey, segments[0], segments[1], segments[2], segments[3], score, r); err != nil {
		c.log().Warn("grade handler rejected replaceResult: " + err.Error())
		return BuildOutcomeResponse("failure", "processingfail",
			"Failed to Post Grade: "+err.Error(), messageID, "replaceResult", false)
	}

	return BuildOutcomeResponse("success", "status",
		"Score for "+sourcedID+" is now "+strconv.FormatFloat(score, 'f', -1, 64),
		messageID, "replaceResult", true)
}
