// pkg/lti/ags.go
package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

// agsScore is the body posted to a lineitem's scores endpoint.
type agsScore struct {
	Timestamp        string  `json:"timestamp"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	UserID           string  `json:"userId"`
}

// scoresURL appends the /scores segment to a lineitem URL, keeping any
// query string (Canvas carries type_and_limits there) after the segment.
func scoresURL(lineitem string) (string, error) {
	u, err := url.Parse(lineitem)
	if err != nil || !u.IsAbs() {
		return "", Validationf("invalid lineitem URL %q", lineitem)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/scores"
	return u.String(), nil
}

// PostAGSGrade posts a normalized 0..1 score for userSub to the lineitem
// at gradeURL, authorized by a score-scoped access token for the consumer.
// Success is exactly an HTTP 200 from the platform.
func (e *OIDC) PostAGSGrade(ctx context.Context, userSub string, score float64, consumerKey, gradeURL string) error {
	consumer, err := e.Consumers.GetConsumerByKey(ctx, consumerKey)
	if errors.Is(err, store.ErrNotFound) {
		return Trustf("unknown consumer key %q", consumerKey)
	} else if err != nil {
		return err
	}

	tok, err := e.GetAccessToken(ctx, consumer, scopeAGSScore)
	if err != nil {
		e.log().WithField("key", consumerKey).Warn("no access token for grade post")
		return err
	}

	target, err := scoresURL(gradeURL)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(agsScore{
		Timestamp:        e.now().Format(time.RFC3339),
		ScoreGiven:       score,
		ScoreMaximum:     1.0,
		ActivityProgress: "Submitted",
		GradingProgress:  "FullyGraded",
		UserID:           userSub,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return WrapUpstream(err, "building score request for %s", target)
	}
	req.Header.Set("Content-Type", contentTypeScore)
	req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)

	resp, err := e.client().Do(req)
	if err != nil {
		return WrapUpstream(err, "posting score to %s", target)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return Upstreamf(string(respBody), "score post to %s returned %s", target, resp.Status)
	}

	e.log().WithFields(logrus.Fields{"url": target, "user": userSub}).Info("posted AGS score")
	return nil
}
