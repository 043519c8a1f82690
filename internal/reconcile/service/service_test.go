package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"identity_bridge/internal/idp"
	"identity_bridge/internal/membership"
	"identity_bridge/platform/logger"
)

type fakeDirectory struct {
	people        []membership.Person
	personByEmail *membership.Person
	queryErr      error
	findErr       error
	queryCalls    [][]string
	findCalls     []string
}

func (f *fakeDirectory) QueryPeopleByIDs(_ context.Context, ids []string) ([]membership.Person, error) {
	f.queryCalls = append(f.queryCalls, ids)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.people, nil
}

func (f *fakeDirectory) FindPersonByEmail(_ context.Context, email string) (*membership.Person, error) {
	f.findCalls = append(f.findCalls, email)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.personByEmail, nil
}

type fakeRecorder struct {
	linkage *membership.Linkage
	err     error
	calls   []membership.ProvisionParams
}

func (f *fakeRecorder) ProvisionIdentity(_ context.Context, params membership.ProvisionParams) (*membership.Linkage, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.linkage != nil {
		return f.linkage, nil
	}
	return &membership.Linkage{ID: "link-" + params.ExternalID, PersonID: "person-" + params.ExternalID}, nil
}

type fakeAccounts struct {
	err     error
	failFor string
	calls   []idp.NewAccount
}

func (f *fakeAccounts) CreateAccount(_ context.Context, account idp.NewAccount) (string, error) {
	f.calls = append(f.calls, account)
	if f.err != nil {
		return "", f.err
	}
	if f.failFor != "" && f.failFor == account.PersonID {
		return "", errors.New("directory rejected account")
	}
	return "acct-" + account.PersonID, nil
}

func newEngine(dir *fakeDirectory, rec *fakeRecorder, acc *fakeAccounts) *Service {
	return New(dir, rec, acc, logger.New("test"))
}

func userGrant(personID string) RoleChangeEvent {
	return RoleChangeEvent{EntityType: "Person", RoleName: "user", PersonID: personID}
}

func TestTestDeliveryMakesNoCalls(t *testing.T) {
	dir := &fakeDirectory{}
	rec := &fakeRecorder{}
	acc := &fakeAccounts{}
	engine := newEngine(dir, rec, acc)

	result, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Test:   true,
		Events: []RoleChangeEvent{userGrant("p1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Test {
		t.Fatal("expected test delivery result")
	}
	if len(dir.queryCalls) != 0 || len(acc.calls) != 0 || len(rec.calls) != 0 {
		t.Fatal("expected no client calls for test delivery")
	}
}

func TestIrrelevantEventsAreFilteredOut(t *testing.T) {
	dir := &fakeDirectory{}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	result, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Events: []RoleChangeEvent{
			{EntityType: "Organization", RoleName: "user", PersonID: "o1"},
			{EntityType: "Person", RoleName: "admin", PersonID: "p1"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("expected zero outcomes, got %d", len(result.Outcomes))
	}
	if len(dir.queryCalls) != 0 {
		t.Fatal("expected no directory lookup for filtered-out events")
	}
}

func TestRepeatedEventsAreDeduplicated(t *testing.T) {
	dir := &fakeDirectory{
		people: []membership.Person{{
			ID: "p1", GivenName: "A", FamilyName: "B", FullName: "A B",
			Email: "a@example.com", RoleNames: []string{"user"},
		}},
	}
	rec := &fakeRecorder{}
	acc := &fakeAccounts{}
	engine := newEngine(dir, rec, acc)

	_, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Events: []RoleChangeEvent{userGrant("p1"), userGrant("p1"), userGrant("p1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dir.queryCalls) != 1 {
		t.Fatalf("expected one directory lookup, got %d", len(dir.queryCalls))
	}
	if len(dir.queryCalls[0]) != 1 || dir.queryCalls[0][0] != "p1" {
		t.Fatalf("expected lookup for exactly [p1], got %v", dir.queryCalls[0])
	}
	if len(acc.calls) != 1 {
		t.Fatalf("expected one account creation, got %d", len(acc.calls))
	}
}

func TestProvisionCreatesAccountAndRecordsLinkage(t *testing.T) {
	dir := &fakeDirectory{
		people: []membership.Person{{
			ID: "p1", GivenName: "Ada", FamilyName: "Lovelace", FullName: "Ada Lovelace",
			Email: "ada@example.com", RoleNames: []string{"user"},
		}},
	}
	rec := &fakeRecorder{}
	acc := &fakeAccounts{}
	engine := newEngine(dir, rec, acc)

	result, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Events: []RoleChangeEvent{userGrant("p1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provisioned() != 1 {
		t.Fatalf("expected one provisioned person, got %d", result.Provisioned())
	}

	account := acc.calls[0]
	if account.DisplayName != "Ada Lovelace" || account.GivenName != "Ada" || account.Surname != "Lovelace" {
		t.Fatalf("unexpected account names: %+v", account)
	}
	if account.Email != "ada@example.com" || account.PersonID != "p1" {
		t.Fatalf("unexpected account identity fields: %+v", account)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("expected one linkage call, got %d", len(rec.calls))
	}
	link := rec.calls[0]
	if link.ProviderSlug != ProviderSlug || link.ExternalID != "acct-p1" || link.Email != "ada@example.com" {
		t.Fatalf("unexpected linkage params: %+v", link)
	}
}

func TestReplayedDeliveryIsANoOp(t *testing.T) {
	person := membership.Person{
		ID: "p1", FullName: "A B", Email: "a@example.com", RoleNames: []string{"user"},
	}
	dir := &fakeDirectory{people: []membership.Person{person}}
	rec := &fakeRecorder{}
	acc := &fakeAccounts{}
	engine := newEngine(dir, rec, acc)

	delivery := RoleChangeDelivery{Events: []RoleChangeEvent{userGrant("p1")}}

	if _, err := engine.HandleRoleChangeBatch(context.Background(), delivery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acc.calls) != 1 {
		t.Fatalf("expected one account creation on first delivery, got %d", len(acc.calls))
	}

	// Second delivery sees the link recorded by the first.
	person.Identities = []membership.IdentityLink{{ProviderSlug: ProviderSlug, ExternalID: "acct-p1", Email: person.Email}}
	dir.people = []membership.Person{person}

	result, err := engine.HandleRoleChangeBatch(context.Background(), delivery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acc.calls) != 1 {
		t.Fatalf("expected no account creation on replay, got %d total", len(acc.calls))
	}
	if result.Outcomes[0].Status != OutcomeSkipped {
		t.Fatalf("expected replay outcome skipped, got %s", result.Outcomes[0].Status)
	}
}

func TestRevokedRoleAtLookupIsSkipped(t *testing.T) {
	dir := &fakeDirectory{
		people: []membership.Person{{ID: "p1", Email: "a@example.com", RoleNames: []string{"member"}}},
	}
	acc := &fakeAccounts{}
	engine := newEngine(dir, &fakeRecorder{}, acc)

	result, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Events: []RoleChangeEvent{userGrant("p1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(acc.calls) != 0 {
		t.Fatal("expected no account creation for revoked role")
	}
	if result.Outcomes[0].Status != OutcomeSkipped || result.Outcomes[0].Reason != "role revoked" {
		t.Fatalf("unexpected outcome: %+v", result.Outcomes[0])
	}
}

func TestPerPersonFailureDoesNotAbortBatch(t *testing.T) {
	dir := &fakeDirectory{
		people: []membership.Person{
			{ID: "p1", FullName: "P One", Email: "one@example.com", RoleNames: []string{"user"}},
			{ID: "p2", FullName: "P Two", Email: "two@example.com", RoleNames: []string{"user"}},
		},
	}
	rec := &fakeRecorder{}
	acc := &fakeAccounts{failFor: "p1"}
	engine := newEngine(dir, rec, acc)

	result, err := engine.HandleRoleChangeBatch(context.Background(), RoleChangeDelivery{
		Events: []RoleChangeEvent{userGrant("p1"), userGrant("p2")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed() != 1 || result.Provisioned() != 1 {
		t.Fatalf("expected one failure and one success, got %+v", result.Outcomes)
	}
	if len(rec.calls) != 1 || rec.calls[0].Email != "two@example.com" {
		t.Fatalf("expected linkage recorded only for p2, got %+v", rec.calls)
	}
}

func TestSignupAllowedWhenNoPersonMatches(t *testing.T) {
	engine := newEngine(&fakeDirectory{}, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "a@example.com")
	if !decision.Allowed {
		t.Fatalf("expected signup allowed, got denial: %s", decision.DeveloperMessage)
	}
}

func TestSignupAllowedWhenPersonHasNoLinks(t *testing.T) {
	dir := &fakeDirectory{personByEmail: &membership.Person{ID: "p1", Email: "a@example.com"}}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "a@example.com")
	if !decision.Allowed {
		t.Fatalf("expected signup allowed, got denial: %s", decision.DeveloperMessage)
	}
}

func TestSignupAllowedWhenOnlyOtherProviderLinked(t *testing.T) {
	dir := &fakeDirectory{personByEmail: &membership.Person{
		ID: "p1", Email: "a@example.com",
		Identities: []membership.IdentityLink{{ProviderSlug: "other", ExternalID: "x-1"}},
	}}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "a@example.com")
	if !decision.Allowed {
		t.Fatalf("expected signup allowed, got denial: %s", decision.DeveloperMessage)
	}
}

func TestSignupDeniedWhenAlreadyLinkedWithMatchingEmail(t *testing.T) {
	dir := &fakeDirectory{personByEmail: &membership.Person{
		ID: "p1", Email: "a@example.com",
		Identities: []membership.IdentityLink{{ProviderSlug: ProviderSlug, ExternalID: "ext-9"}},
	}}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "A@Example.com")
	if decision.Allowed {
		t.Fatal("expected signup denied for already-linked identity")
	}
	if !strings.Contains(decision.DeveloperMessage, "ext-9") {
		t.Fatalf("expected denial detail to name the external id, got %q", decision.DeveloperMessage)
	}
}

func TestSignupAllowedForSecondaryEmailOfLinkedPerson(t *testing.T) {
	dir := &fakeDirectory{personByEmail: &membership.Person{
		ID: "p1", Email: "primary@example.com",
		Identities: []membership.IdentityLink{{ProviderSlug: ProviderSlug, ExternalID: "ext-9"}},
	}}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "secondary@example.com")
	if !decision.Allowed {
		t.Fatalf("expected signup allowed for secondary email, got denial: %s", decision.DeveloperMessage)
	}
}

func TestSignupDeniedWhenDirectoryLookupFails(t *testing.T) {
	dir := &fakeDirectory{findErr: &membership.APIError{Endpoint: "/people", StatusCode: 503}}
	engine := newEngine(dir, &fakeRecorder{}, &fakeAccounts{})

	decision := engine.DecideSignupAllowed(context.Background(), "a@example.com")
	if decision.Allowed {
		t.Fatal("expected fail-closed denial when directory is unavailable")
	}
	if !strings.Contains(decision.DeveloperMessage, "503") {
		t.Fatalf("expected denial detail to carry the status, got %q", decision.DeveloperMessage)
	}
}

func TestPostLoginProvisionReturnsSessionClaims(t *testing.T) {
	rec := &fakeRecorder{linkage: &membership.Linkage{ID: "link-1", PersonID: "person-1"}}
	engine := newEngine(&fakeDirectory{}, rec, &fakeAccounts{})

	claims, err := engine.HandlePostLoginProvision(context.Background(), ProvisionRequest{
		ObjectID:   "ext-1",
		Email:      "a@example.com",
		GivenName:  "A",
		FamilyName: "B",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.PersonUUID != "person-1" || claims.UserIdentityID != "link-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	params := rec.calls[0]
	if params.ProviderSlug != ProviderSlug || params.ExternalID != "ext-1" {
		t.Fatalf("unexpected provision params: %+v", params)
	}
	if params.GivenName != "A" || params.FamilyName != "B" {
		t.Fatalf("expected name hints to be forwarded, got %+v", params)
	}
}

func TestPostLoginProvisionSurfacesUpstreamStatus(t *testing.T) {
	rec := &fakeRecorder{err: &membership.APIError{Endpoint: "/user_identities/provision", StatusCode: 422}}
	engine := newEngine(&fakeDirectory{}, rec, &fakeAccounts{})

	_, err := engine.HandlePostLoginProvision(context.Background(), ProvisionRequest{
		ObjectID: "ext-1", Email: "a@example.com",
	})
	if err == nil {
		t.Fatal("expected error from failed provision call")
	}
	if !strings.Contains(err.Error(), "/user_identities/provision") || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected error to name endpoint and status, got %q", err.Error())
	}
}
