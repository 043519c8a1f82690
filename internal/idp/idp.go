// Package idp defines the public API of the identity-provider bounded context.
// The identity provider is the system of record for sign-in accounts; this
// system creates accounts for people granted the user role and patches
// sign-in emails on request.
package idp

// NewAccount describes the account to create for a membership person. The
// provider assigns the account id; PersonID is stored on the account as a
// back-reference extension attribute for cross-system lookup.
type NewAccount struct {
	DisplayName string
	GivenName   string
	Surname     string
	Email       string
	PersonID    string
}
