// Package credential selects the client credential a daemon authenticates with.
//
// An application registration proves its identity with either a shared
// secret or a certificate. Configuration files ship with placeholder text
// for both; Resolve picks whichever one was actually filled in.
package credential

import (
	"errors"
	"fmt"
	"strings"
)

// Placeholder values shipped in the sample appsettings.json. A value equal to
// its placeholder counts as unset.
const (
	SecretPlaceholder      = "[Enter here a client secret for your application]"
	CertificatePlaceholder = "[Or instead of client secret: Enter here the name of a certificate (from the user cert store) as registered with your application]"
)

// ErrConfiguration is matched by every ConfigurationError.
var ErrConfiguration = errors.New("credential configuration error")

// Kind identifies which credential variant is in use.
type Kind int

const (
	KindSharedSecret Kind = iota + 1
	KindCertificate
)

func (k Kind) String() string {
	switch k {
	case KindSharedSecret:
		return "client secret"
	case KindCertificate:
		return "certificate"
	default:
		return "unknown"
	}
}

// Settings are the credential-related configuration values.
type Settings struct {
	ClientSecret    string
	CertificateName string
}

// Descriptor names a certificate to load.
type Descriptor struct {
	Name string
}

// Credential is the resolved client credential. Exactly one of Secret or
// Certificate is meaningful, selected by Kind.
type Credential struct {
	Kind        Kind
	Secret      string
	Certificate Descriptor
}

// String describes the credential without revealing the secret.
func (c Credential) String() string {
	if c.Kind == KindCertificate {
		return fmt.Sprintf("certificate %q", c.Certificate.Name)
	}
	return c.Kind.String()
}

// ConfigurationError reports missing or unusable credential settings.
// It is fatal at startup.
type ConfigurationError struct {
	Setting string
	Message string
	Hint    string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ErrorCode maps credential errors onto the config exit code.
func (e *ConfigurationError) ErrorCode() string { return "config" }

// ErrorHint returns the remediation hint.
func (e *ConfigurationError) ErrorHint() string { return e.Hint }

// Resolve picks the credential to use. A usable client secret always wins,
// even when a certificate name is also configured.
func Resolve(s Settings) (Credential, error) {
	if usable(s.ClientSecret, SecretPlaceholder) {
		return Credential{Kind: KindSharedSecret, Secret: s.ClientSecret}, nil
	}
	if usable(s.CertificateName, CertificatePlaceholder) {
		return Credential{
			Kind:        KindCertificate,
			Certificate: Descriptor{Name: strings.TrimSpace(s.CertificateName)},
		}, nil
	}
	return Credential{}, &ConfigurationError{
		Setting: "ClientSecret",
		Message: "You must choose between using client secret or certificate",
		Hint:    "Set ClientSecret or CertificateName in appsettings.json, or run 'daemon-console secret set'",
	}
}

// Usable reports whether a secret value would be selected by Resolve.
func Usable(secret string) bool {
	return usable(secret, SecretPlaceholder)
}

func usable(value, placeholder string) bool {
	v := strings.TrimSpace(value)
	return v != "" && v != placeholder
}
