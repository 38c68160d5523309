package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	msalerrors "github.com/AzureAD/microsoft-authentication-library-for-go/apps/errors"
	"golang.org/x/oauth2"
)

// InvalidScopeCode is the provider code for a scope the client credentials
// grant cannot serve.
const InvalidScopeCode = "AADSTS70011"

var (
	// ErrProvider matches token failures other than an invalid scope.
	ErrProvider = errors.New("identity provider error")
	// ErrInvalidScope matches a rejected scope.
	ErrInvalidScope = errors.New("scope provided is not supported")
)

var providerCodeRE = regexp.MustCompile(`AADSTS\d+`)

// ProviderError is a token request the identity provider refused or that
// never reached it.
type ProviderError struct {
	Code         string // OAuth2 error, such as "invalid_client"
	ProviderCode string // provider specific code, such as "AADSTS7000215"
	Description  string
	StatusCode   int
	Cause        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("token request failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is maps the error onto ErrInvalidScope or ErrProvider.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrInvalidScope:
		return e.InvalidScope()
	case ErrProvider:
		return !e.InvalidScope()
	}
	return false
}

// InvalidScope reports whether the provider rejected the requested scope.
func (e *ProviderError) InvalidScope() bool {
	return e.ProviderCode == InvalidScopeCode || e.Code == "invalid_scope"
}

// ErrorCode maps the error onto an output code.
func (e *ProviderError) ErrorCode() string {
	if e.InvalidScope() {
		return "invalid_scope"
	}
	return "provider"
}

// ErrorHint returns a remediation hint.
func (e *ProviderError) ErrorHint() string {
	switch {
	case e.InvalidScope():
		return "With client credentials the scope must be of the shape https://resource/.default"
	case e.Code == "invalid_client" || e.Code == "unauthorized_client":
		return "Check ClientId and the client secret or certificate registered with the application"
	case e.Code == "invalid_request" && e.ProviderCode == "AADSTS90002":
		return "Check the Tenant setting"
	default:
		return ""
	}
}

// HTTPStatusCode returns the token endpoint status, if any.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// errorBody is the OAuth2 error response, with the extra fields Entra ID adds.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
}

// Classify turns a token acquisition failure into a *ProviderError.
// Cancellation passes through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	out := &ProviderError{Cause: err}

	var retrieve *oauth2.RetrieveError
	var call msalerrors.CallErr
	switch {
	case errors.As(err, &retrieve):
		if retrieve.Response != nil {
			out.StatusCode = retrieve.Response.StatusCode
		}
		out.Code = retrieve.ErrorCode
		out.Description = retrieve.ErrorDescription
		out.fromBody(string(retrieve.Body))
	case errors.As(err, &call):
		if call.Resp != nil {
			out.StatusCode = call.Resp.StatusCode
		}
		out.fromBody(err.Error())
	}

	if out.ProviderCode == "" {
		out.ProviderCode = providerCodeRE.FindString(out.Description)
	}
	if out.ProviderCode == "" {
		out.ProviderCode = providerCodeRE.FindString(err.Error())
	}
	if out.Description == "" && out.Code == "" {
		out.Description = err.Error()
	}
	return out
}

// fromBody fills missing fields from a JSON error document embedded in text.
func (e *ProviderError) fromBody(text string) {
	i := strings.Index(text, "{")
	j := strings.LastIndex(text, "}")
	if i < 0 || j < i {
		return
	}
	var body errorBody
	if err := json.Unmarshal([]byte(text[i:j+1]), &body); err != nil {
		return
	}
	if e.Code == "" {
		e.Code = body.Error
	}
	if e.Description == "" {
		e.Description = firstLine(body.ErrorDescription)
	}
	if len(body.ErrorCodes) > 0 {
		e.ProviderCode = fmt.Sprintf("AADSTS%d", body.ErrorCodes[0])
	}
}

// firstLine drops the trace and correlation lines Entra ID appends to descriptions.
func firstLine(s string) string {
	s = strings.ReplaceAll(s, "\\r\\n", "\n")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
