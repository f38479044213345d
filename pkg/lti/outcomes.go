// pkg/lti/outcomes.go
package lti

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Basic Outcomes (LTI 1.0/1.1 grade passback).

Grades travel as IMS POX envelopes: application/xml bodies with root
imsx_POXEnvelopeRequest / imsx_POXEnvelopeResponse in the imsoms_v1p0
namespace, an OAuth body-hash signature in the Authorization header, and
an operation element (replaceResultRequest and friends) under
imsx_POXBody. replaceResult is the only operation implemented; everything
else gets an "unsupported" response naming the operation.
*/

const poxNamespace = "http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0"

type poxStatusInfo struct {
	CodeMajor    string `xml:"imsx_codeMajor"`
	Severity     string `xml:"imsx_severity"`
	Description  string `xml:"imsx_description"`
	MessageRefID string `xml:"imsx_messageRefIdentifier,omitempty"`
	OperationRef string `xml:"imsx_operationRefIdentifier,omitempty"`
}

type poxResponseEnvelope struct {
	XMLName   xml.Name      `xml:"imsx_POXEnvelopeResponse"`
	XMLNS     string        `xml:"xmlns,attr"`
	Version   string        `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_version"`
	MessageID string        `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_messageIdentifier"`
	Status    poxStatusInfo `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo"`
	Body      poxRawBody    `xml:"imsx_POXBody"`
}

type poxRawBody struct {
	Inner string `xml:",innerxml"`
}

type poxRequestEnvelope struct {
	XMLName   xml.Name   `xml:"imsx_POXEnvelopeRequest"`
	Version   string     `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_version"`
	MessageID string     `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_messageIdentifier"`
	Body      poxAnyBody `xml:"imsx_POXBody"`
}

type poxAnyBody struct {
	Ops []poxOperation `xml:",any"`
}

type poxOperation struct {
	XMLName xml.Name
}

// replaceResultEnvelope is the typed view used once the operation is known
// to be replaceResult.
type replaceResultEnvelope struct {
	XMLName   xml.Name `xml:"imsx_POXEnvelopeRequest"`
	SourcedID string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>sourcedGUID>sourcedId"`
	Score     string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>result>resultScore>textString"`
}

// outboundReplaceResult is the request shape PostOutcome sends.
type outboundReplaceResult struct {
	XMLName   xml.Name `xml:"imsx_POXEnvelopeRequest"`
	XMLNS     string   `xml:"xmlns,attr"`
	Version   string   `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_version"`
	MessageID string   `xml:"imsx_POXHeader>imsx_POXRequestHeaderInfo>imsx_messageIdentifier"`
	SourcedID string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>sourcedGUID>sourcedId"`
	Language  string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>result>resultScore>language"`
	TextScore string   `xml:"imsx_POXBody>replaceResultRequest>resultRecord>result>resultScore>textString"`
}

// BuildOutcomeResponse renders a POX response envelope. messageRef may be
// empty when the inbound message id was never extracted; withBody adds an
// empty <operation>Response element for the success case.
func BuildOutcomeResponse(codeMajor, severity, description, messageRef, operation string, withBody bool) []byte {
	env := poxResponseEnvelope{
		XMLNS:     poxNamespace,
		Version:   "V1.0",
		MessageID: uuid.NewString(),
		Status: poxStatusInfo{
			CodeMajor:    codeMajor,
			Severity:     severity,
			Description:  description,
			MessageRefID: messageRef,
			OperationRef: operation,
		},
	}
	if withBody && operation != "" {
		env.Body.Inner = "<" + operation + "Response/>"
	}
	out, err := xml.Marshal(env)
	if err != nil {
		// Marshalling a fixed struct cannot fail at runtime.
		panic(err)
	}
	return append([]byte(xml.Header), out...)
}

// BuildReplaceResultRequest renders the replaceResultRequest envelope used
// for outbound grade passback.
func BuildReplaceResultRequest(messageID, sourcedID string, score float64) []byte {
	env := outboundReplaceResult{
		XMLNS:     poxNamespace,
		Version:   "V1.0",
		MessageID: messageID,
		SourcedID: sourcedID,
		Language:  "en",
		TextScore: strconv.FormatFloat(score, 'f', -1, 64),
	}
	out, err := xml.Marshal(env)
	if err != nil {
		panic(err)
	}
	return append([]byte(xml.Header), out...)
}

// parseOutcomeRequest reads a POX request envelope and returns its message
// id and operation element names.
func parseOutcomeRequest(body []byte) (messageID string, ops []string, err error) {
	var env poxRequestEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", nil, Validationf("malformed outcomes envelope: %v", err)
	}
	if env.Version != "V1.0" {
		return "", nil, Validationf("unexpected imsx_version %q", env.Version)
	}
	for _, op := range env.Body.Ops {
		ops = append(ops, op.XMLName.Local)
	}
	return env.MessageID, ops, nil
}

// parseReplaceResult extracts and validates the score and sourcedid of a
// replaceResultRequest envelope. The sourcedid 4-tuple arity is checked by
// the caller, which owns the response code for that failure.
func parseReplaceResult(body []byte) (score float64, sourcedID string, err error) {
	var env replaceResultEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return 0, "", Validationf("malformed replaceResultRequest: %v", err)
	}
	if env.SourcedID == "" {
		return 0, "", Validationf("missing sourcedGUID.sourcedId")
	}
	raw := strings.TrimSpace(env.Score)
	if raw == "" {
		return 0, "", Validationf("missing resultScore.textString")
	}
	score, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return 0, "", Validationf("resultScore.textString %q is not numeric", raw)
	}
	return score, env.SourcedID, nil
}

// parseOutcomeResponse extracts the status block from a POX response.
func parseOutcomeResponse(body []byte) (codeMajor, description string, err error) {
	var env struct {
		XMLName xml.Name      `xml:"imsx_POXEnvelopeResponse"`
		Status  poxStatusInfo `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo"`
	}
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", "", Validationf("malformed outcomes response: %v", err)
	}
	return env.Status.CodeMajor, env.Status.Description, nil
}

// PostOutcome sends a replaceResultRequest for lmsGradeID to gradeURL,
// signed with the consumer's shared secret. It succeeds only when the
// platform answers HTTP 200 with imsx_codeMajor "success"; any other
// answer is an upstream error carrying the response body.
func (e *OAuth1) PostOutcome(ctx context.Context, lmsGradeID string, score float64, consumerKey, gradeURL string) error {
	ck, err := e.Consumers.GetConsumerKey(ctx, consumerKey)
	if errors.Is(err, store.ErrNotFound) {
		return Trustf("unknown consumer key %q", consumerKey)
	} else if err != nil {
		return err
	}

	body := BuildReplaceResultRequest(uuid.NewString(), lmsGradeID, score)
	auth, err := e.SignBody(body, ck.Key, ck.Secret, gradeURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gradeURL, bytes.NewReader(body))
	if err != nil {
		return WrapUpstream(err, "building outcome request for %s", gradeURL)
	}
	req.Header.Set("Content-Type", contentTypePOX)
	req.Header.Set("Authorization", auth)

	resp, err := e.client().Do(req)
	if err != nil {
		return WrapUpstream(err, "posting outcome to %s", gradeURL)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return Upstreamf(string(respBody), "outcome post to %s returned %s", gradeURL, resp.Status)
	}
	codeMajor, desc, err := parseOutcomeResponse(respBody)
	if err != nil {
		return Upstreamf(string(respBody), "outcome post to %s returned unparseable body", gradeURL)
	}
	if codeMajor != "success" {
		return Upstreamf(string(respBody), "outcome post to %s rejected: %s (%s)", gradeURL, codeMajor, desc)
	}
	e.log().WithFields(logrus.Fields{"url": gradeURL, "grade_id": lmsGradeID}).Info(fmt.Sprintf("posted outcome %g", score))
	return nil
}
