// Package membership defines the public API of the membership bounded context.
// The membership service is the system of record for people, their roles, and
// the identity links recorded against them. This system only reads people and
// appends identity links; it never mutates a person directly.
package membership

import "fmt"

// Person is a membership-service person with its linked identities resolved.
type Person struct {
	ID         string
	GivenName  string
	FamilyName string
	FullName   string
	Email      string
	RoleNames  []string
	Identities []IdentityLink
}

// HasRole reports whether the person currently holds the named role.
func (p Person) HasRole(role string) bool {
	for _, r := range p.RoleNames {
		if r == role {
			return true
		}
	}
	return false
}

// LinkFor returns the identity link for the given provider slug, or nil when
// the person has no link to that provider.
func (p Person) LinkFor(providerSlug string) *IdentityLink {
	for i := range p.Identities {
		if p.Identities[i].ProviderSlug == providerSlug {
			return &p.Identities[i]
		}
	}
	return nil
}

// IdentityLink binds a person to an account at an external identity provider.
// At most one link exists per (person, provider slug) pair.
type IdentityLink struct {
	ID           string
	ProviderSlug string
	ExternalID   string
	Email        string
}

// ProvisionParams are the attributes sent to the linkage-provision endpoint.
// The optional name hints let the membership service create the person when no
// matching record exists server-side.
type ProvisionParams struct {
	ProviderSlug string
	ExternalID   string
	Email        string
	GivenName    string
	FamilyName   string
}

// Linkage is the record returned by a successful linkage-provision call.
type Linkage struct {
	ID       string
	PersonID string
}

// APIError is returned when the membership service answers a call with a
// non-success status. It carries only the endpoint and status code so callers
// can build operator-facing detail without exposing upstream internals.
type APIError struct {
	Endpoint   string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("membership api responded with status %d for %s", e.StatusCode, e.Endpoint)
}
