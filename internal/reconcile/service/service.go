// Package service implements the identity reconciliation engine: the decision
// logic that turns membership role changes and identity-provider callbacks
// into idempotent account-creation and linkage operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"identity_bridge/internal/idp"
	"identity_bridge/internal/membership"
	"identity_bridge/platform/apperr"
	"identity_bridge/platform/logger"
)

// ProviderSlug tags identity links owned by this identity provider inside the
// membership service.
const ProviderSlug = "b2c"

const (
	entityTypePerson = "Person"
	roleUser         = "user"
)

// MembershipDirectory is the read path into the membership service.
type MembershipDirectory interface {
	// QueryPeopleByIDs returns the people with the given ids, with roles and
	// identity links resolved, in a single call.
	QueryPeopleByIDs(ctx context.Context, ids []string) ([]membership.Person, error)
	// FindPersonByEmail returns the unique person with the exact email, or
	// nil when none matches.
	FindPersonByEmail(ctx context.Context, email string) (*membership.Person, error)
}

// LinkageRecorder is the write path into the membership service.
type LinkageRecorder interface {
	// ProvisionIdentity records a person↔account link, creating the person
	// from the name hints when necessary.
	ProvisionIdentity(ctx context.Context, params membership.ProvisionParams) (*membership.Linkage, error)
}

// AccountDirectory is the write path into the identity provider.
type AccountDirectory interface {
	// CreateAccount creates a sign-in account and returns its id.
	CreateAccount(ctx context.Context, account idp.NewAccount) (string, error)
}

// Service is the reconciliation engine. It holds no mutable state; all
// durable state lives in the two external systems, and concurrency safety
// rests on the idempotency guards in the decision procedures.
type Service struct {
	directory MembershipDirectory
	recorder  LinkageRecorder
	accounts  AccountDirectory
	log       *logger.Logger
}

// New creates the reconciliation engine.
func New(directory MembershipDirectory, recorder LinkageRecorder, accounts AccountDirectory, log *logger.Logger) *Service {
	return &Service{
		directory: directory,
		recorder:  recorder,
		accounts:  accounts,
		log:       log,
	}
}

// RoleChangeEvent is one event inside a role-change webhook delivery.
type RoleChangeEvent struct {
	EntityType string
	RoleName   string
	PersonID   string
}

// RoleChangeDelivery is a single webhook delivery, possibly batching many
// events. Test deliveries carry no payload semantics.
type RoleChangeDelivery struct {
	Test   bool
	Events []RoleChangeEvent
}

// OutcomeStatus classifies the result of reconciling one person.
type OutcomeStatus string

const (
	// OutcomeProvisioned means an account was created and linked.
	OutcomeProvisioned OutcomeStatus = "provisioned"
	// OutcomeSkipped means no work was needed (already linked, or the role
	// was no longer held at lookup time).
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed means account creation or linkage failed; the person is
	// left unlinked and will be retried on the next delivery touching it.
	OutcomeFailed OutcomeStatus = "failed"
)

// PersonOutcome is the per-person result inside a batch.
type PersonOutcome struct {
	PersonID  string
	AccountID string
	Status    OutcomeStatus
	Reason    string
	Err       error
}

// BatchResult aggregates per-person outcomes for one delivery. The HTTP layer
// always acknowledges the delivery regardless of these outcomes; they exist
// for observability.
type BatchResult struct {
	Test     bool
	Outcomes []PersonOutcome
}

// Provisioned returns the number of accounts created by this delivery.
func (r BatchResult) Provisioned() int {
	return r.count(OutcomeProvisioned)
}

// Failed returns the number of people whose provisioning failed.
func (r BatchResult) Failed() int {
	return r.count(OutcomeFailed)
}

func (r BatchResult) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// HandleRoleChangeBatch reconciles one role-change webhook delivery. Events
// are filtered to user-role grants on people, deduplicated by person id, and
// resolved against current directory state in a single lookup. People already
// holding an identity link are skipped, which makes redelivery of the same
// webhook a no-op. Per-person failures never abort the rest of the batch.
func (s *Service) HandleRoleChangeBatch(ctx context.Context, delivery RoleChangeDelivery) (BatchResult, error) {
	log := s.log.WithContext(ctx)

	if delivery.Test {
		log.Debug("test webhook delivery acknowledged")
		return BatchResult{Test: true}, nil
	}

	personIDs := distinctUserGrantPersonIDs(delivery.Events)
	if len(personIDs) == 0 {
		return BatchResult{}, nil
	}

	people, err := s.directory.QueryPeopleByIDs(ctx, personIDs)
	if err != nil {
		return BatchResult{}, fmt.Errorf("query people: %w", err)
	}

	result := BatchResult{Outcomes: make([]PersonOutcome, 0, len(people))}
	for _, person := range people {
		result.Outcomes = append(result.Outcomes, s.reconcilePerson(ctx, person))
	}

	log.Info("role change delivery processed",
		"people", len(personIDs),
		"provisioned", result.Provisioned(),
		"failed", result.Failed())

	return result, nil
}

// reconcilePerson applies current directory state to one person. Lookup-time
// state is authoritative: the event only tells us whose state to re-check.
func (s *Service) reconcilePerson(ctx context.Context, person membership.Person) PersonOutcome {
	log := s.log.WithContext(ctx)

	if !person.HasRole(roleUser) {
		// Role revoked between event and lookup. Revocation handling needs a
		// product decision (disable vs. delete the account), so the event is
		// surfaced as a recognized gap rather than acted on.
		log.Warn("user role revoked; revocation is not handled", "person_id", person.ID)
		return PersonOutcome{PersonID: person.ID, Status: OutcomeSkipped, Reason: "role revoked"}
	}

	if len(person.Identities) > 0 {
		log.Debug("person already linked, skipping", "person_id", person.ID)
		return PersonOutcome{PersonID: person.ID, Status: OutcomeSkipped, Reason: "already linked"}
	}

	accountID, err := s.accounts.CreateAccount(ctx, idp.NewAccount{
		DisplayName: person.FullName,
		GivenName:   person.GivenName,
		Surname:     person.FamilyName,
		Email:       person.Email,
		PersonID:    person.ID,
	})
	if err != nil {
		log.Error("account creation failed", "person_id", person.ID, "error", err)
		return PersonOutcome{PersonID: person.ID, Status: OutcomeFailed, Reason: "account creation", Err: err}
	}

	if _, err := s.recorder.ProvisionIdentity(ctx, membership.ProvisionParams{
		ProviderSlug: ProviderSlug,
		ExternalID:   accountID,
		Email:        person.Email,
	}); err != nil {
		// The account exists but the link was not recorded. The signup and
		// provisioning guards downstream keep this recoverable.
		log.Error("linkage recording failed", "person_id", person.ID, "account_id", accountID, "error", err)
		return PersonOutcome{PersonID: person.ID, AccountID: accountID, Status: OutcomeFailed, Reason: "linkage recording", Err: err}
	}

	log.Info("person provisioned", "person_id", person.ID, "account_id", accountID)
	return PersonOutcome{PersonID: person.ID, AccountID: accountID, Status: OutcomeProvisioned}
}

// distinctUserGrantPersonIDs filters a delivery to user-role grants on people
// and returns the distinct person ids in first-seen order.
func distinctUserGrantPersonIDs(events []RoleChangeEvent) []string {
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if e.EntityType != entityTypePerson || e.RoleName != roleUser {
			continue
		}
		if _, ok := seen[e.PersonID]; ok {
			continue
		}
		seen[e.PersonID] = struct{}{}
		ids = append(ids, e.PersonID)
	}
	return ids
}

// SignupDecision is the outcome of a signup check. When denied, the developer
// message carries operator-facing detail; the user-facing message stays
// generic at the HTTP layer.
type SignupDecision struct {
	Allowed          bool
	DeveloperMessage string
}

func allow() SignupDecision {
	return SignupDecision{Allowed: true}
}

func deny(detail string) SignupDecision {
	return SignupDecision{DeveloperMessage: detail}
}

// DecideSignupAllowed decides whether a prospective signup with the candidate
// email may proceed, from current membership directory state alone. Unknown
// state denies: when the directory cannot be queried the signup is refused
// rather than risking a duplicate account.
func (s *Service) DecideSignupAllowed(ctx context.Context, email string) SignupDecision {
	log := s.log.WithContext(ctx)

	person, err := s.directory.FindPersonByEmail(ctx, email)
	if err != nil {
		var apiErr *membership.APIError
		if errors.As(err, &apiErr) {
			log.Error("signup check lookup failed", "status", apiErr.StatusCode)
			return deny(fmt.Sprintf("membership directory responded with status %d", apiErr.StatusCode))
		}
		log.Error("signup check lookup failed", "error", err)
		return deny("membership directory could not be reached")
	}

	// No person with this email, signup can continue.
	if person == nil {
		return allow()
	}

	// No link for this provider (none at all, or other providers only).
	link := person.LinkFor(ProviderSlug)
	if link == nil {
		return allow()
	}

	// Allow attaching a secondary email to an already-provisioned person.
	if !strings.EqualFold(person.Email, email) {
		return allow()
	}

	log.Info("signup denied, identity already linked", "person_id", person.ID, "account_id", link.ExternalID)
	return deny(fmt.Sprintf("person has an existing linked identity object_id=%s", link.ExternalID))
}

// ProvisionRequest is the post-login provisioning request sent by the
// identity provider after a completed first-time sign-up.
type ProvisionRequest struct {
	ObjectID   string
	Email      string
	GivenName  string
	FamilyName string
}

// SessionClaims are returned to the identity provider on successful
// provisioning and become the caller's session claims.
type SessionClaims struct {
	PersonUUID     string
	UserIdentityID string
}

// HandlePostLoginProvision links a freshly signed-up identity-provider
// account to a membership person, creating the person from the name hints
// when none exists.
func (s *Service) HandlePostLoginProvision(ctx context.Context, req ProvisionRequest) (*SessionClaims, error) {
	log := s.log.WithContext(ctx)

	linkage, err := s.recorder.ProvisionIdentity(ctx, membership.ProvisionParams{
		ProviderSlug: ProviderSlug,
		ExternalID:   req.ObjectID,
		Email:        req.Email,
		GivenName:    req.GivenName,
		FamilyName:   req.FamilyName,
	})
	if err != nil {
		var apiErr *membership.APIError
		if errors.As(err, &apiErr) {
			log.Error("post-login provision failed", "account_id", req.ObjectID, "status", apiErr.StatusCode)
			return nil, apperr.Conflict(fmt.Sprintf("there was an error calling %s - response code %d", apiErr.Endpoint, apiErr.StatusCode)).WithOp("provision")
		}
		log.Error("post-login provision failed", "account_id", req.ObjectID, "error", err)
		return nil, apperr.Wrap(apperr.KindUnavailable, "linkage provision call failed", err).WithOp("provision")
	}

	claims := &SessionClaims{
		PersonUUID:     linkage.PersonID,
		UserIdentityID: linkage.ID,
	}
	log.Info("provisioned identity", "account_id", req.ObjectID, "person_id", claims.PersonUUID, "identity_id", claims.UserIdentityID)

	return claims, nil
}
