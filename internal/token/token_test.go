package token

import (
	"context"
	"crypto/sha1" //nolint:gosec // x5t thumbprint
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	msalerrors "github.com/AzureAD/microsoft-authentication-library-for-go/apps/errors"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/daemon-console/internal/credential"
	"github.com/basecamp/daemon-console/internal/credential/credtest"
)

const tokenPath = "/tenant/oauth2/v2.0/token"

// fakeIdP is a token endpoint that records requests and answers with handle.
type fakeIdP struct {
	*httptest.Server
	hits   atomic.Int32
	handle func(w http.ResponseWriter, r *http.Request)
}

func newFakeIdP(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{handle: handle}
	idp.Server = httptest.NewServer(idp.routes(t))
	t.Cleanup(idp.Close)
	return idp
}

// newTLSFakeIdP also serves OpenID discovery over TLS, as MSAL requires.
func newTLSFakeIdP(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{handle: handle}
	r := idp.routes(t)
	r.Get("/tenant/v2.0/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"token_endpoint":         idp.URL + tokenPath,
			"authorization_endpoint": idp.URL + "/tenant/oauth2/v2.0/authorize",
			"issuer":                 idp.URL + "/tenant/v2.0",
		})
	})
	idp.Server = httptest.NewTLSServer(r)
	t.Cleanup(idp.Close)
	return idp
}

func (idp *fakeIdP) routes(t *testing.T) *chi.Mux {
	r := chi.NewRouter()
	r.Post(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		idp.hits.Add(1)
		if !assert.NoError(t, r.ParseForm()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		idp.handle(w, r)
	})
	return r
}

func (idp *fakeIdP) authority() string { return idp.URL + "/tenant" }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func issue(expiresIn int) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tok-" + r.PostForm.Get("scope"),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}
}

func TestScopes(t *testing.T) {
	bases := []string{
		"https://graph.microsoft.com/",
		"https://api.example.com/resource/",
		"api://11111111-2222-3333-4444-555555555555/",
		"",
	}
	for i := 0; i < 20; i++ {
		bases = append(bases, fmt.Sprintf("https://host%d.example.com/path%d/", i, i*31))
	}
	for _, base := range bases {
		got := Scopes(base)
		require.Len(t, got, 1)
		assert.Equal(t, base+".default", got[0])
	}
}

func TestOAuth2SecretAndCache(t *testing.T) {
	idp := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		issue(3600)(w, r)
	})

	p, err := New(Options{
		Backend:    BackendOAuth2,
		Authority:  idp.authority(),
		ClientID:   "client-1",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "s3cret"},
		HTTPClient: idp.Client(),
	})
	require.NoError(t, err)

	scopes := Scopes("https://graph.microsoft.com/")
	first, err := p.AcquireToken(context.Background(), scopes)
	require.NoError(t, err)
	assert.Equal(t, "tok-https://graph.microsoft.com/.default", first.AccessToken)
	assert.False(t, first.FromCache)
	assert.False(t, first.ExpiresOn.IsZero())

	second, err := p.AcquireToken(context.Background(), scopes)
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), idp.hits.Load())
}

func TestOAuth2ShortLivedTokensAreNotCached(t *testing.T) {
	idp := newFakeIdP(t, issue(60))

	p, err := New(Options{
		Backend:    BackendOAuth2,
		Authority:  idp.authority(),
		ClientID:   "client-1",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "s3cret"},
		HTTPClient: idp.Client(),
	})
	require.NoError(t, err)

	for range 2 {
		_, err := p.AcquireToken(context.Background(), Scopes("https://graph.microsoft.com/"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), idp.hits.Load())
}

func TestOAuth2CertificateAssertion(t *testing.T) {
	dir := t.TempDir()
	pair := credtest.New(t, "daemon")
	pair.Write(t, dir, "daemon")

	var tokenURL string
	idp := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.PostForm.Get("client_secret"))
		assert.Equal(t, ClientAssertionType, r.PostForm.Get("client_assertion_type"))

		parsed, err := jwt.ParseWithClaims(r.PostForm.Get("client_assertion"), &jwt.RegisteredClaims{},
			func(tk *jwt.Token) (any, error) { return &pair.Key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithAudience(tokenURL),
			jwt.WithIssuer("client-1"),
		)
		if !assert.NoError(t, err) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
			return
		}

		sum := sha1.Sum(pair.Cert.Raw) //nolint:gosec // x5t thumbprint
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), parsed.Header["x5t"])

		claims := parsed.Claims.(*jwt.RegisteredClaims)
		assert.Equal(t, "client-1", claims.Subject)
		assert.NotEmpty(t, claims.ID)
		issue(3600)(w, r)
	})
	tokenURL = idp.URL + tokenPath

	p, err := New(Options{
		Backend:        BackendOAuth2,
		Authority:      idp.authority(),
		ClientID:       "client-1",
		Credential:     credential.Credential{Kind: credential.KindCertificate, Certificate: credential.Descriptor{Name: "daemon"}},
		CertificateDir: dir,
		HTTPClient:     idp.Client(),
	})
	require.NoError(t, err)

	res, err := p.AcquireToken(context.Background(), Scopes("https://graph.microsoft.com/"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestOAuth2InvalidScope(t *testing.T) {
	idp := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_scope",
			"error_description": "AADSTS70011: The provided value for the input parameter 'scope' is not valid.\r\nTrace ID: abc",
			"error_codes":       []int{70011},
		})
	})

	p, err := New(Options{
		Backend:    BackendOAuth2,
		Authority:  idp.authority(),
		ClientID:   "client-1",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "s3cret"},
		HTTPClient: idp.Client(),
	})
	require.NoError(t, err)

	_, err = p.AcquireToken(context.Background(), []string{"https://graph.microsoft.com/User.Read"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidScope)
	assert.NotErrorIs(t, err, ErrProvider)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, InvalidScopeCode, pe.ProviderCode)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "invalid_scope", pe.ErrorCode())
}

func TestOAuth2InvalidClient(t *testing.T) {
	idp := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "invalid_client",
			"error_description": "AADSTS7000215: Invalid client secret provided.",
			"error_codes":       []int{7000215},
		})
	})

	p, err := New(Options{
		Backend:    BackendOAuth2,
		Authority:  idp.authority(),
		ClientID:   "client-1",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "wrong"},
		HTTPClient: idp.Client(),
	})
	require.NoError(t, err)

	_, err = p.AcquireToken(context.Background(), Scopes("https://graph.microsoft.com/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.NotErrorIs(t, err, ErrInvalidScope)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "invalid_client", pe.Code)
	assert.Equal(t, "AADSTS7000215", pe.ProviderCode)
	assert.Equal(t, http.StatusUnauthorized, pe.HTTPStatusCode())
	assert.NotEmpty(t, pe.ErrorHint())
	assert.Equal(t, int32(1), idp.hits.Load(), "failures are not retried within a tick")
}

func TestClassifyMSALCallErr(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://login.microsoftonline.com/t/oauth2/v2.0/token", nil)
	body := `{"error":"invalid_scope","error_description":"AADSTS70011: The provided request must include a 'scope' input parameter.","error_codes":[70011]}`
	callErr := msalerrors.CallErr{
		Req:  req,
		Resp: &http.Response{StatusCode: http.StatusBadRequest},
		Err:  fmt.Errorf("http call(%s)(POST) error: reply status code was 400:\n%s", req.URL, body),
	}

	err := Classify(callErr)
	assert.ErrorIs(t, err, ErrInvalidScope)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "invalid_scope", pe.Code)
	assert.Contains(t, pe.Description, "AADSTS70011")
}

func TestClassify(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, Classify(nil))
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		err := Classify(fmt.Errorf("post: %w", context.Canceled))
		assert.ErrorIs(t, err, context.Canceled)
		var pe *ProviderError
		assert.False(t, errors.As(err, &pe))
	})

	t.Run("code found in message text", func(t *testing.T) {
		err := Classify(errors.New("MsalServiceException: AADSTS70011: invalid scope"))
		assert.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("transport failure is a provider error", func(t *testing.T) {
		err := Classify(errors.New("dial tcp 127.0.0.1:1: connect: connection refused"))
		assert.ErrorIs(t, err, ErrProvider)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("already classified", func(t *testing.T) {
		orig := &ProviderError{Code: "invalid_client"}
		assert.Same(t, orig, Classify(orig))
	})
}

func TestNewMSAL(t *testing.T) {
	p, err := New(Options{
		Authority:  "https://login.microsoftonline.com/contoso.onmicrosoft.com",
		ClientID:   "11111111-2222-3333-4444-555555555555",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "s3cret"},
	})
	require.NoError(t, err)
	assert.IsType(t, &msalProvider{}, p)
}

func newTestMSAL(t *testing.T, idp *fakeIdP) Provider {
	t.Helper()
	p, err := New(Options{
		Backend:                  BackendMSAL,
		Authority:                idp.authority(),
		ClientID:                 "11111111-2222-3333-4444-555555555555",
		Credential:               credential.Credential{Kind: credential.KindSharedSecret, Secret: "s3cret"},
		HTTPClient:               idp.Client(),
		DisableInstanceDiscovery: true,
	})
	require.NoError(t, err)
	return p
}

func TestMSALAcquireTokenThenCache(t *testing.T) {
	idp := newTLSFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Contains(t, r.PostForm.Get("scope"), "https://graph.microsoft.com/.default")
		claims := r.PostForm.Get("claims")
		assert.Contains(t, claims, `"xms_cc"`)
		assert.Contains(t, claims, `"cp1"`)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "msal-tok",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	p := newTestMSAL(t, idp)
	scopes := Scopes("https://graph.microsoft.com/")

	first, err := p.AcquireToken(context.Background(), scopes)
	require.NoError(t, err)
	assert.Equal(t, "msal-tok", first.AccessToken)
	assert.False(t, first.FromCache)

	second, err := p.AcquireToken(context.Background(), scopes)
	require.NoError(t, err)
	assert.Equal(t, "msal-tok", second.AccessToken)
	assert.True(t, second.FromCache)
	assert.Equal(t, int32(1), idp.hits.Load())
}

func TestMSALInvalidScope(t *testing.T) {
	idp := newTLSFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_scope",
			"error_description": "AADSTS70011: The provided value for the input parameter 'scope' is not valid.",
			"error_codes":       []int{70011},
		})
	})
	p := newTestMSAL(t, idp)

	_, err := p.AcquireToken(context.Background(), Scopes("https://graph.microsoft.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidScope)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "AADSTS70011", pe.ProviderCode)
}

func TestNewMSALWithCertificate(t *testing.T) {
	dir := t.TempDir()
	credtest.New(t, "daemon").Write(t, dir, "daemon")

	p, err := New(Options{
		Backend:        BackendMSAL,
		Authority:      "https://login.microsoftonline.com/contoso.onmicrosoft.com",
		ClientID:       "11111111-2222-3333-4444-555555555555",
		Credential:     credential.Credential{Kind: credential.KindCertificate, Certificate: credential.Descriptor{Name: "daemon"}},
		CertificateDir: dir,
	})
	require.NoError(t, err)
	assert.IsType(t, &msalProvider{}, p)
}

func TestNewErrors(t *testing.T) {
	_, err := New(Options{
		Backend:    "kerberos",
		Credential: credential.Credential{Kind: credential.KindSharedSecret, Secret: "x"},
	})
	assert.ErrorContains(t, err, "unknown token provider")

	_, err = New(Options{
		Credential:     credential.Credential{Kind: credential.KindCertificate, Certificate: credential.Descriptor{Name: "absent"}},
		CertificateDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, credential.ErrConfiguration)
}

func TestAssertionSignerRejectsUnknownKey(t *testing.T) {
	pair := credtest.New(t, "daemon")
	_, err := newAssertionSigner("c", "aud", &credential.Certificate{Chain: nil, Key: pair.Key})
	assert.ErrorIs(t, err, credential.ErrConfiguration)

	var notAKey struct{}
	_, err = newAssertionSigner("c", "aud", &credential.Certificate{Chain: []*x509.Certificate{pair.Cert}, Key: notAKey})
	assert.ErrorIs(t, err, credential.ErrConfiguration)
}
