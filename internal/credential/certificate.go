package credential

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
)

// Path returns the PEM file for d. A name that already points at an existing
// file is used as is; otherwise it is looked up as <dir>/<name>.pem.
func (d Descriptor) Path(dir string) string {
	if fi, err := os.Stat(d.Name); err == nil && !fi.IsDir() {
		return d.Name
	}
	name := d.Name
	if !strings.HasSuffix(strings.ToLower(name), ".pem") {
		name += ".pem"
	}
	return filepath.Join(dir, name)
}

// Certificate is a parsed certificate chain with its private key.
type Certificate struct {
	Chain []*x509.Certificate
	Key   crypto.PrivateKey
}

// Leaf returns the first certificate of the chain.
func (c *Certificate) Leaf() *x509.Certificate {
	if len(c.Chain) == 0 {
		return nil
	}
	return c.Chain[0]
}

// LoadCertificate reads the PEM file for d. The file must hold at least one
// certificate and one private key; password decrypts a legacy encrypted key.
func LoadCertificate(d Descriptor, dir, password string) (*Certificate, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, &ConfigurationError{
			Setting: "CertificateName",
			Message: "certificateName should not be empty",
			Hint:    "Set the CertificateName setting in appsettings.json",
		}
	}

	path := d.Path(dir)
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from configuration
	if err != nil {
		return nil, &ConfigurationError{
			Setting: "CertificateName",
			Message: fmt.Sprintf("cannot read certificate %q: %v", path, err),
			Hint:    "Export the certificate and key as PEM into certificate_dir",
		}
	}

	chain, key, err := confidential.CertFromPEM(data, password)
	if err != nil {
		return nil, &ConfigurationError{
			Setting: "CertificateName",
			Message: fmt.Sprintf("cannot parse certificate %q: %v", path, err),
			Hint:    "The PEM file needs a CERTIFICATE block and a PRIVATE KEY block",
		}
	}

	return &Certificate{Chain: chain, Key: key}, nil
}
