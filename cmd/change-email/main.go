// Command change-email patches the email sign-in identity on an existing
// identity-provider account. Administrative one-off; the new email takes
// effect for the account's next sign-in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"identity_bridge/internal/config"
	idpclient "identity_bridge/internal/idp/client"
	"identity_bridge/platform/logger"
)

func main() {
	objectID := flag.String("o", "", "identity-provider account id")
	email := flag.String("e", "", "new sign-in email")
	flag.Parse()

	if *objectID == "" || *email == "" {
		fmt.Fprintln(os.Stderr, "usage: change-email -o <object-id> -e <email>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)

	directory := idpclient.New(idpclient.Config{
		TenantID:           cfg.IDPTenantID,
		ClientID:           cfg.IDPClientID,
		ClientSecret:       cfg.IDPClientSecret,
		TenantDomain:       cfg.IDPTenantDomain,
		ExtensionsClientID: cfg.IDPExtensionsClientID,
		GraphURL:           cfg.IDPGraphURL,
		LoginURL:           cfg.IDPLoginURL,
		Timeout:            cfg.HTTPClientTimeout,
	}, log.WithComponent("directory"))

	if err := directory.UpdateSignInEmail(context.Background(), *objectID, *email); err != nil {
		fmt.Fprintln(os.Stderr, "failed to update sign-in email:", err)
		os.Exit(1)
	}

	log.Info("sign-in email updated", "account_id", *objectID)
}
