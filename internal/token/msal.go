package token

import (
	"context"
	"log/slog"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"

	"github.com/basecamp/daemon-console/internal/credential"
)

// clientCapabilities declares that the app can handle claims challenges
// from continuous access evaluation.
var clientCapabilities = []string{"cp1"}

// msalProvider acquires tokens through an MSAL confidential client.
// The client holds the app token cache, so it must live as long as the process.
type msalProvider struct {
	client confidential.Client
	logger *slog.Logger
}

func newMSAL(opts Options, cert *credential.Certificate) (*msalProvider, error) {
	var (
		cred confidential.Credential
		err  error
	)
	clientOpts := []confidential.Option{
		confidential.WithHTTPClient(opts.HTTPClient),
		confidential.WithClientCapabilities(clientCapabilities),
	}
	if opts.DisableInstanceDiscovery {
		clientOpts = append(clientOpts, confidential.WithInstanceDiscovery(false))
	}

	if cert != nil {
		cred, err = confidential.NewCredFromCert(cert.Chain, cert.Key)
		clientOpts = append(clientOpts, confidential.WithX5C())
	} else {
		cred, err = confidential.NewCredFromSecret(opts.Credential.Secret)
	}
	if err != nil {
		return nil, &credential.ConfigurationError{
			Setting: "credential",
			Message: err.Error(),
			Hint:    "Check the client secret or certificate",
		}
	}

	client, err := confidential.New(opts.Authority, opts.ClientID, cred, clientOpts...)
	if err != nil {
		return nil, &credential.ConfigurationError{
			Setting: "Authority",
			Message: err.Error(),
			Hint:    "Authority must look like https://login.microsoftonline.com/<tenant>",
		}
	}

	return &msalProvider{client: client, logger: opts.Logger}, nil
}

// AcquireToken returns a cached app token when one is still valid and asks
// the identity provider otherwise.
func (p *msalProvider) AcquireToken(ctx context.Context, scopes []string) (*Result, error) {
	if res, err := p.client.AcquireTokenSilent(ctx, scopes); err == nil {
		p.logger.Debug("token from cache", "expires_on", res.ExpiresOn)
		return &Result{AccessToken: res.AccessToken, ExpiresOn: res.ExpiresOn, FromCache: true}, nil
	}

	res, err := p.client.AcquireTokenByCredential(ctx, scopes)
	if err != nil {
		return nil, Classify(err)
	}
	p.logger.Debug("token acquired", "expires_on", res.ExpiresOn)
	return &Result{AccessToken: res.AccessToken, ExpiresOn: res.ExpiresOn}, nil
}
