// Package sso wraps the SAML library for identity-provider metadata parsing,
// SP-initiated login and assertion validation.
package sso

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
)

const maxMetadataBytes = 1 << 20

var (
	ErrNoEntityDescriptor = errors.New("invalid metadata XML: EntityDescriptor not found")
	ErrNoIDPDescriptor    = errors.New("invalid metadata XML: IDPSSODescriptor not found")
	ErrInvalidCertificate = errors.New("invalid X.509 certificate")
)

// Metadata is what the admin console needs from an IdP metadata document.
type Metadata struct {
	EntryPoint string `json:"entryPoint"`
	Issuer     string `json:"issuer"`
	Cert       string `json:"cert"`
}

// FetchMetadata downloads and parses the metadata document at metadataURL.
func FetchMetadata(ctx context.Context, client *http.Client, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/samlmetadata+xml, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch metadata: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return ParseMetadata(body)
}

// ParseMetadata extracts issuer, HTTP-Redirect entry point and signing
// certificate. An EntitiesDescriptor resolves to its first IdP entity.
// A missing redirect endpoint or certificate yields an empty field, not an error.
func ParseMetadata(data []byte) (*Metadata, error) {
	entity, err := samlsp.ParseMetadata(data)
	if err != nil {
		if strings.Contains(err.Error(), "IDPSSODescriptor") {
			return nil, ErrNoIDPDescriptor
		}
		return nil, fmt.Errorf("%w: %v", ErrNoEntityDescriptor, err)
	}
	if len(entity.IDPSSODescriptors) == 0 {
		return nil, ErrNoIDPDescriptor
	}

	idp := entity.IDPSSODescriptors[0]
	return &Metadata{
		Issuer:     entity.EntityID,
		EntryPoint: redirectLocation(idp.SingleSignOnServices),
		Cert:       signingCertificate(idp.KeyDescriptors),
	}, nil
}

func redirectLocation(services []saml.Endpoint) string {
	for _, svc := range services {
		if strings.HasSuffix(svc.Binding, "HTTP-Redirect") {
			return svc.Location
		}
	}
	return ""
}

// signingCertificate prefers the KeyDescriptor marked use="signing" and
// falls back to the first one.
func signingCertificate(keys []saml.KeyDescriptor) string {
	if len(keys) == 0 {
		return ""
	}
	chosen := keys[0]
	for _, kd := range keys {
		if kd.Use == "signing" {
			chosen = kd
			break
		}
	}
	certs := chosen.KeyInfo.X509Data.X509Certificates
	if len(certs) == 0 {
		return ""
	}
	return NormalizeCertificate(certs[0].Data)
}

// NormalizeCertificate strips PEM armour and all whitespace, leaving the
// base64 DER body the way it appears inside metadata.
func NormalizeCertificate(cert string) string {
	cert = strings.ReplaceAll(cert, "-----BEGIN CERTIFICATE-----", "")
	cert = strings.ReplaceAll(cert, "-----END CERTIFICATE-----", "")
	return strings.Join(strings.Fields(cert), "")
}

// ValidateCertificate checks that cert decodes to an X.509 certificate.
func ValidateCertificate(cert string) error {
	der, err := base64.StdEncoding.DecodeString(NormalizeCertificate(cert))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if _, err := x509.ParseCertificate(der); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return nil
}
