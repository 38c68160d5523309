// Package token acquires app-only access tokens with the client credentials grant.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basecamp/daemon-console/internal/credential"
)

// Provider acquires access tokens for a set of scopes.
// Implementations keep their own token cache and are safe to reuse across ticks.
type Provider interface {
	AcquireToken(ctx context.Context, scopes []string) (*Result, error)
}

// Result is an acquired access token.
type Result struct {
	AccessToken string
	ExpiresOn   time.Time
	FromCache   bool
}

// Scopes returns the client credentials scope for a resource. App-only
// permissions are granted statically, so the scope is always "<resource>/.default".
func Scopes(apiBaseURL string) []string {
	return []string{apiBaseURL + ".default"}
}

// Backends accepted by New.
const (
	BackendMSAL   = "msal"
	BackendOAuth2 = "oauth2"
)

// Options configures a Provider.
type Options struct {
	Backend             string
	Authority           string
	ClientID            string
	TokenURL            string
	Credential          credential.Credential
	CertificateDir      string
	CertificatePassword string
	HTTPClient          *http.Client
	Logger              *slog.Logger

	// DisableInstanceDiscovery skips MSAL's authority validation against the
	// public cloud, for identity providers it cannot know about.
	DisableInstanceDiscovery bool
}

// New builds the provider for opts.Backend. Certificates are loaded once here.
func New(opts Options) (Provider, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	var cert *credential.Certificate
	if opts.Credential.Kind == credential.KindCertificate {
		c, err := credential.LoadCertificate(opts.Credential.Certificate, opts.CertificateDir, opts.CertificatePassword)
		if err != nil {
			return nil, err
		}
		cert = c
	}

	switch strings.ToLower(opts.Backend) {
	case "", BackendMSAL:
		return newMSAL(opts, cert)
	case BackendOAuth2:
		return newOAuth2(opts, cert)
	default:
		return nil, fmt.Errorf("unknown token provider %q", opts.Backend)
	}
}

// DefaultTokenURL is the v2 token endpoint under an authority.
func DefaultTokenURL(authority string) string {
	return strings.TrimSuffix(authority, "/") + "/oauth2/v2.0/token"
}
