package membership

import "testing"

func TestHasRole(t *testing.T) {
	person := Person{RoleNames: []string{"member", "user"}}
	if !person.HasRole("user") {
		t.Fatal("expected person to hold the user role")
	}
	if person.HasRole("admin") {
		t.Fatal("expected person not to hold the admin role")
	}
}

func TestLinkForMatchesProviderSlug(t *testing.T) {
	person := Person{Identities: []IdentityLink{
		{ProviderSlug: "other", ExternalID: "x-1"},
		{ProviderSlug: "b2c", ExternalID: "acct-1"},
	}}

	link := person.LinkFor("b2c")
	if link == nil || link.ExternalID != "acct-1" {
		t.Fatalf("unexpected link: %+v", link)
	}
	if person.LinkFor("missing") != nil {
		t.Fatal("expected nil for unknown provider slug")
	}
}
