package token

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/basecamp/daemon-console/internal/credential"
)

// expiryMargin keeps cached tokens from being handed out right before they expire.
const expiryMargin = 5 * time.Minute

// oauth2Provider speaks the client credentials grant directly to a token
// endpoint. Certificates are presented as private_key_jwt client assertions.
type oauth2Provider struct {
	base   clientcredentials.Config
	signer *assertionSigner
	opts   Options
	cache  *gocache.Cache
	now    func() time.Time
	logger *slog.Logger
}

func newOAuth2(opts Options, cert *credential.Certificate) (*oauth2Provider, error) {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL(opts.Authority)
	}

	p := &oauth2Provider{
		base: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.Credential.Secret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		opts:   opts,
		cache:  gocache.New(gocache.NoExpiration, time.Minute),
		now:    time.Now,
		logger: opts.Logger,
	}

	if cert != nil {
		signer, err := newAssertionSigner(opts.ClientID, tokenURL, cert)
		if err != nil {
			return nil, err
		}
		p.signer = signer
		p.base.ClientSecret = ""
	}

	return p, nil
}

// AcquireToken serves tokens from the cache until shortly before expiry.
func (p *oauth2Provider) AcquireToken(ctx context.Context, scopes []string) (*Result, error) {
	key := cacheKey(scopes)
	if v, ok := p.cache.Get(key); ok {
		res := *v.(*Result)
		res.FromCache = true
		p.logger.Debug("token from cache", "scopes", key, "expires_on", res.ExpiresOn)
		return &res, nil
	}

	conf := p.base
	conf.Scopes = scopes
	if p.signer != nil {
		assertion, err := p.signer.Sign()
		if err != nil {
			return nil, &ProviderError{Description: "signing client assertion: " + err.Error(), Cause: err}
		}
		conf.EndpointParams = url.Values{
			"client_assertion_type": {ClientAssertionType},
			"client_assertion":      {assertion},
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.opts.HTTPClient)
	tok, err := conf.Token(ctx)
	if err != nil {
		return nil, Classify(err)
	}

	res := &Result{AccessToken: tok.AccessToken, ExpiresOn: tok.Expiry}
	if ttl := tok.Expiry.Sub(p.now()) - expiryMargin; !tok.Expiry.IsZero() && ttl > 0 {
		cached := *res
		p.cache.Set(key, &cached, ttl)
	}
	p.logger.Debug("token acquired", "scopes", key, "expires_on", res.ExpiresOn)
	return res, nil
}

func cacheKey(scopes []string) string {
	sorted := slices.Clone(scopes)
	slices.Sort(sorted)
	return strings.Join(sorted, " ")
}
