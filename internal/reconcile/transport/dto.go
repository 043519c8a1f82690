// Package transport defines the wire DTOs for the reconciliation endpoints.
package transport

// RoleWebhookRequest is the membership role-change webhook payload. Test
// deliveries must be acknowledged without processing.
type RoleWebhookRequest struct {
	Events []RoleChangeEvent `json:"events"`
	Test   bool              `json:"test"`
}

// RoleChangeEvent is one event in a webhook delivery.
type RoleChangeEvent struct {
	EntityType string `json:"entity_type"`
	RoleName   string `json:"role_name"`
	EntityUUID string `json:"entity_uuid"`
}

// VerifySignupRequest is sent by the identity provider's signup extension.
type VerifySignupRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ProvisionRequest is sent by the identity provider after a completed
// first-time sign-up flow.
type ProvisionRequest struct {
	ObjectID  string `json:"objectId" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	GivenName string `json:"givenName"`
	SurName   string `json:"surName"`
}

// ProvisionResponse carries the session claims back to the identity provider.
type ProvisionResponse struct {
	PersonUUID     string `json:"personUuid"`
	UserIdentityID string `json:"userIdentityId"`
}

// ConflictResponse is the deny/failure envelope understood by the identity
// provider's extension hooks. Status is repeated in the body per the hook
// contract.
type ConflictResponse struct {
	Version          string `json:"version"`
	Status           int    `json:"status"`
	UserMessage      string `json:"userMessage"`
	DeveloperMessage string `json:"developerMessage"`
}
