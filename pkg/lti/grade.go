// pkg/lti/grade.go
package lti

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
)

// GradeDebug carries optional human-readable context for grade post logs.
type GradeDebug struct {
	User         string
	UserID       string
	Assignment   string
	AssignmentID string
}

func (d *GradeDebug) fields() logrus.Fields {
	f := logrus.Fields{
		"user": "Unknown User", "user_id": "Unknown User ID",
		"assignment": "Unknown Assignment", "assignment_id": "Unknown Assignment ID",
	}
	if d == nil {
		return f
	}
	if d.User != "" {
		f["user"] = d.User
	}
	if d.UserID != "" {
		f["user_id"] = d.UserID
	}
	if d.Assignment != "" {
		f["assignment"] = d.Assignment
	}
	if d.AssignmentID != "" {
		f["assignment_id"] = d.AssignmentID
	}
	return f
}

// Grader routes a grade post to the sub-protocol selected by the
// identifier the launch recorded: an lis_result_sourcedid means Basic
// Outcomes, a 1.3 subject id means AGS. Exactly one must be present.
type Grader struct {
	OAuth1 *OAuth1
	OIDC   *OIDC
	Log    *logrus.Logger
}

func (g *Grader) log() *logrus.Entry { return ltilog.LTI(g.Log) }

// PostGrade validates the inputs and posts a normalized 0..1 score.
func (g *Grader) PostGrade(ctx context.Context, consumerKey, gradeURL, lmsGradeID string, score float64, userSub string, debug *GradeDebug) error {
	g.log().WithFields(debug.fields()).Info("posting grade")

	if consumerKey == "" {
		return Validationf("grade post needs a consumer key")
	}
	if gradeURL == "" {
		return Validationf("grade post needs a grade URL")
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Validationf("grade post score %v is not in [0, 1]", score)
	}
	if lmsGradeID == "" && userSub == "" {
		return Validationf("grade post needs an LMS grade id (LTI 1.0) or a user subject id (LTI 1.3)")
	}
	if lmsGradeID != "" && userSub != "" {
		return Validationf("grade post must carry exactly one of an LMS grade id and a user subject id")
	}

	if lmsGradeID != "" {
		return g.OAuth1.PostOutcome(ctx, lmsGradeID, score, consumerKey, gradeURL)
	}
	return g.OIDC.PostAGSGrade(ctx, userSub, score, consumerKey, gradeURL)
}
