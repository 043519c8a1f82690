// Package client provides the HTTP client for the identity provider's
// Graph-style directory API, authenticated with the OAuth2 client-credentials
// flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"identity_bridge/internal/idp"
	"identity_bridge/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const signInTypeEmail = "emailAddress"

// Config carries the tenant and app-registration settings for the directory.
type Config struct {
	TenantID           string
	ClientID           string
	ClientSecret       string
	TenantDomain       string
	ExtensionsClientID string
	GraphURL           string
	LoginURL           string
	Timeout            time.Duration
}

// Client is the HTTP client for the identity provider directory API. The
// underlying oauth2 transport acquires and refreshes the app token.
type Client struct {
	httpClient   *http.Client
	graphURL     string
	tenantDomain string
	extensionKey string
	log          *logger.Logger
}

// New creates a directory client for the configured tenant.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.LoginURL + "/" + cfg.TenantID + "/oauth2/v2.0/token",
		Scopes:       []string{scopeFor(cfg.GraphURL)},
	}

	// The token endpoint inherits the timeout of the base client.
	base := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})

	return &Client{
		httpClient:   cc.Client(base),
		graphURL:     cfg.GraphURL,
		tenantDomain: cfg.TenantDomain,
		extensionKey: extensionKey(cfg.ExtensionsClientID),
		log:          log,
	}
}

// CreateAccount creates a sign-in account for a membership person and returns
// the provider-assigned account id. The account is created enabled, with a
// one-time random password that must be changed on first sign-in, and an
// email-kind sign-in identity bound to the tenant domain.
func (c *Client) CreateAccount(ctx context.Context, account idp.NewAccount) (string, error) {
	body := map[string]any{
		"displayName":    account.DisplayName,
		"givenName":      account.GivenName,
		"surname":        account.Surname,
		"accountEnabled": true,
		"passwordProfile": map[string]any{
			"forceChangePasswordNextSignIn": true,
			"password":                      uuid.NewString(),
		},
		"passwordPolicies": "DisablePasswordExpiration",
		c.extensionKey:     account.PersonID,
		"identities":       []map[string]string{c.emailIdentity(account.Email)},
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.send(ctx, http.MethodPost, c.graphURL+"/users", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("directory returned no account id")
	}

	return created.ID, nil
}

// UpdateSignInEmail replaces the email sign-in identity on an existing
// account. Used by the administrative email-change tool.
func (c *Client) UpdateSignInEmail(ctx context.Context, accountID, email string) error {
	body := map[string]any{
		"identities": []map[string]string{c.emailIdentity(email)},
	}

	reqURL := c.graphURL + "/users/" + url.PathEscape(accountID)
	return c.send(ctx, http.MethodPatch, reqURL, body, nil)
}

func (c *Client) emailIdentity(email string) map[string]string {
	return map[string]string{
		"signInType":       signInTypeEmail,
		"issuer":           c.tenantDomain,
		"issuerAssignedId": email,
	}
}

func (c *Client) send(ctx context.Context, method, reqURL string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("directory request failed", "method", method, "url", reqURL, "error", err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error("directory upstream error", "method", method, "url", reqURL, "status", resp.StatusCode)
		return fmt.Errorf("directory responded with status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error("directory decode failed", "url", reqURL, "error", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extensionKey builds the tenant-specific extension attribute name that holds
// the membership person id. The directory strips dashes from the extensions
// app id when naming the attribute.
func extensionKey(extensionsClientID string) string {
	return "extension_" + strings.ReplaceAll(extensionsClientID, "-", "") + "_MembershipUUID"
}

// scopeFor derives the app-token scope from the directory base URL.
func scopeFor(graphURL string) string {
	u, err := url.Parse(graphURL)
	if err != nil || u.Host == "" {
		return "https://graph.microsoft.com/.default"
	}
	return u.Scheme + "://" + u.Host + "/.default"
}
