// pkg/lti/claims.go
package lti

// IMS claim URIs and message identifiers shared by the LTI 1.3 engine,
// the launch normalizer and the deep-linking builder.
const (
	ltiClaimMessageType = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ltiClaimVersion     = "https://purl.imsglobal.org/spec/lti/claim/version"
	ltiClaimDeployment  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ltiClaimTarget      = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ltiClaimContext     = "https://purl.imsglobal.org/spec/lti/claim/context"
	ltiClaimResource    = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ltiClaimRoles       = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ltiClaimToolPlat    = "https://purl.imsglobal.org/spec/lti/claim/tool_platform"
	ltiClaimCustom      = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ltiClaimLTI1p1      = "https://purl.imsglobal.org/spec/lti/claim/lti1p1"

	ltiClaimLaunchPresentation = "https://purl.imsglobal.org/spec/lti/claim/launch_presentation"

	agsClaimEndpoint = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"

	dlClaimSettings     = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	dlClaimContentItems = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	dlClaimData         = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	platformConfigClaim = "https://purl.imsglobal.org/spec/lti-platform-configuration"
	toolConfigClaim     = "https://purl.imsglobal.org/spec/lti-tool-configuration"
)

const (
	msgTypeResourceLink    = "LtiResourceLinkRequest"
	msgTypeDeepLink        = "LtiDeepLinkingRequest"
	msgTypeDeepLinkReply   = "LtiDeepLinkingResponse"
	ltiVersion13           = "1.3.0"
	scopeAGSScore          = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	clientAssertionJWT     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	contentTypeScore       = "application/vnd.ims.lis.v1.score+json"
	contentTypePOX         = "application/xml"
	deepLinkContentTypeLTI = "ltiResourceLink"
)
