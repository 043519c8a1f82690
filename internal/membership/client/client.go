// Package client provides the HTTP client for the membership service admin API.
// The API speaks JSON:API; raw document types stay private to this package and
// are mapped to membership domain types before they leave it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"identity_bridge/internal/membership"
	"identity_bridge/internal/membership/token"
	"identity_bridge/platform/logger"
	"identity_bridge/platform/retry"
)

const contentTypeJSONAPI = "application/vnd.api+json"

// personFields is the sparse fieldset requested on every person lookup. Only
// these attributes are needed to decide provisioning.
const personFields = "given_name,family_name,full_name,user,user_identities,role_names"

// Client is the HTTP client for the membership admin API. It covers the read
// path (person queries) and the single write path (linkage provisioning).
type Client struct {
	httpClient     *http.Client
	baseURL        string
	tokens         *token.Provider
	log            *logger.Logger
	retryAttempts  int
	retryBaseDelay time.Duration
}

// Options tunes outbound call behavior.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// New creates a membership API client. Every request is authenticated with a
// freshly minted service token.
func New(baseURL string, tokens *token.Provider, opts Options, log *logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &Client{
		httpClient:     &http.Client{Timeout: opts.Timeout},
		baseURL:        baseURL,
		tokens:         tokens,
		log:            log,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// QueryPeopleByIDs fetches the people with the given ids, including their
// roles and identity links, in a single call. The page size is pinned to the
// id count so one delivery never needs a second page.
func (c *Client) QueryPeopleByIDs(ctx context.Context, ids []string) ([]membership.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("fields[people]", personFields)
	params.Set("include", "user_identities")
	params.Set("page[size]", strconv.Itoa(len(ids)))

	body, err := json.Marshal(map[string]any{
		"filter": map[string]any{"uuid_in": ids},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	reqURL := c.baseURL + "/people/query?" + params.Encode()

	var doc peopleDocument
	if err := c.send(ctx, http.MethodPost, reqURL, body, &doc); err != nil {
		return nil, err
	}

	people := make([]membership.Person, 0, len(doc.Data))
	for _, res := range doc.Data {
		people = append(people, res.toPerson(doc.Included))
	}
	return people, nil
}

// FindPersonByEmail looks up the unique person whose email exactly matches.
// Returns nil when no person matches.
func (c *Client) FindPersonByEmail(ctx context.Context, email string) (*membership.Person, error) {
	params := url.Values{}
	params.Set("filter[emails_address_eq]", email)
	params.Set("filter[emails_unique_eq]", "true")
	params.Set("fields[people]", "user,user_identities")
	params.Set("include", "user_identities")
	params.Set("page[size]", "1")

	reqURL := c.baseURL + "/people?" + params.Encode()

	var doc peopleDocument
	if err := c.send(ctx, http.MethodGet, reqURL, nil, &doc); err != nil {
		return nil, err
	}

	if len(doc.Data) == 0 {
		return nil, nil
	}
	person := doc.Data[0].toPerson(doc.Included)
	return &person, nil
}

// ProvisionIdentity records that a person is linked to an identity-provider
// account. The membership service creates the person from the name hints when
// no matching record exists.
func (c *Client) ProvisionIdentity(ctx context.Context, params membership.ProvisionParams) (*membership.Linkage, error) {
	attrs := map[string]any{
		"provider_slug": params.ProviderSlug,
		"external_id":   params.ExternalID,
		"email":         params.Email,
	}
	if params.GivenName != "" || params.FamilyName != "" {
		attrs["person"] = map[string]any{
			"given_name":  params.GivenName,
			"family_name": params.FamilyName,
		}
	}

	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"type":       "user_identities",
			"attributes": attrs,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode provision: %w", err)
	}

	reqURL := c.baseURL + "/user_identities/provision"

	var doc linkageDocument
	if err := c.send(ctx, http.MethodPost, reqURL, body, &doc); err != nil {
		return nil, err
	}

	return &membership.Linkage{
		ID:       doc.Data.ID,
		PersonID: doc.Data.Relationships.Person.Data.ID,
	}, nil
}

// send issues one authenticated request and decodes the response into out.
// Only transport-level failures are retried; a non-2xx status is an
// authoritative answer from the membership service, not a transient fault.
func (c *Client) send(ctx context.Context, method, reqURL string, body []byte, out any) error {
	var resp *http.Response

	err := retry.Do(ctx, "membership "+method+" "+reqURL, c.retryAttempts, c.retryBaseDelay, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return err
		}

		serviceToken, err := c.tokens.Mint()
		if err != nil {
			return fmt.Errorf("mint service token: %w", err)
		}
		req.Header.Set("Content-Type", contentTypeJSONAPI)
		req.Header.Set("Authorization", "Bearer "+serviceToken)

		r, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn("membership request failed", "method", method, "url", reqURL, "error", err)
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("membership upstream error", "method", method, "url", reqURL, "status", resp.StatusCode)
		return &membership.APIError{Endpoint: endpointPath(reqURL), StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error("membership decode failed", "url", reqURL, "error", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// endpointPath strips the query and host so errors name the endpoint only.
func endpointPath(reqURL string) string {
	u, err := url.Parse(reqURL)
	if err != nil {
		return reqURL
	}
	return u.Path
}

// ---- JSON:API document types ----

type peopleDocument struct {
	Data     []personResource   `json:"data"`
	Included []includedResource `json:"included"`
}

type personResource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		GivenName  string   `json:"given_name"`
		FamilyName string   `json:"family_name"`
		FullName   string   `json:"full_name"`
		RoleNames  []string `json:"role_names"`
		User       struct {
			Email string `json:"email"`
		} `json:"user"`
	} `json:"attributes"`
	Relationships struct {
		UserIdentities struct {
			Data []resourceRef `json:"data"`
		} `json:"user_identities"`
	} `json:"relationships"`
}

type includedResource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		ProviderSlug string `json:"provider_slug"`
		ExternalID   string `json:"external_id"`
		Email        string `json:"email"`
	} `json:"attributes"`
}

type resourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type linkageDocument struct {
	Data struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		Relationships struct {
			Person struct {
				Data resourceRef `json:"data"`
			} `json:"person"`
		} `json:"relationships"`
	} `json:"data"`
}

// toPerson resolves the identity-link relationship refs against the included
// resources and maps the document to a domain person.
func (r personResource) toPerson(included []includedResource) membership.Person {
	person := membership.Person{
		ID:         r.ID,
		GivenName:  r.Attributes.GivenName,
		FamilyName: r.Attributes.FamilyName,
		FullName:   r.Attributes.FullName,
		Email:      r.Attributes.User.Email,
		RoleNames:  r.Attributes.RoleNames,
	}

	for _, ref := range r.Relationships.UserIdentities.Data {
		for _, inc := range included {
			if inc.Type == ref.Type && inc.ID == ref.ID {
				person.Identities = append(person.Identities, membership.IdentityLink{
					ID:           inc.ID,
					ProviderSlug: inc.Attributes.ProviderSlug,
					ExternalID:   inc.Attributes.ExternalID,
					Email:        inc.Attributes.Email,
				})
			}
		}
	}

	return person
}
