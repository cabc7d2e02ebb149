package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/crewjam/saml"
)

const rsaSHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// IdP is an in-process SAML identity provider that signs responses with a
// throwaway key.
type IdP struct {
	Issuer     string
	EntryPoint string
	// Cert is the base64 DER signing certificate, as it appears in metadata.
	Cert string

	idp *saml.IdentityProvider
}

func NewIdP(t *testing.T) *IdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate IdP key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create IdP certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse IdP certificate: %v", err)
	}

	metadataURL, _ := url.Parse("http://keycloak:8080/realms/gravity-realm")
	ssoURL, _ := url.Parse("http://keycloak:8080/realms/gravity-realm/protocol/saml")

	return &IdP{
		Issuer:     metadataURL.String(),
		EntryPoint: ssoURL.String(),
		Cert:       base64.StdEncoding.EncodeToString(der),
		idp: &saml.IdentityProvider{
			Key:             key,
			Certificate:     cert,
			MetadataURL:     *metadataURL,
			SSOURL:          *ssoURL,
			SignatureMethod: rsaSHA256,
		},
	}
}

// Assertion describes the login the IdP vouches for.
type Assertion struct {
	Audience  string // SP entity id
	ACSURL    string
	RequestID string // InResponseTo; empty for IdP-initiated logins
	NameID    string
	// Attributes are sent with the basic name format.
	Attributes map[string]string
}

// Response returns a signed, base64 encoded SAMLResponse for a.
func (p *IdP) Response(t *testing.T, a Assertion) string {
	t.Helper()

	now := time.Now()
	req := &saml.IdpAuthnRequest{
		IDP:                     p.idp,
		HTTPRequest:             &http.Request{RemoteAddr: "127.0.0.1:1234"},
		Request:                 saml.AuthnRequest{ID: a.RequestID},
		ServiceProviderMetadata: &saml.EntityDescriptor{EntityID: a.Audience},
		SPSSODescriptor:         &saml.SPSSODescriptor{},
		ACSEndpoint:             &saml.IndexedEndpoint{Binding: saml.HTTPPostBinding, Location: a.ACSURL},
		Now:                     now,
	}

	session := &saml.Session{
		ID:           "session-1",
		CreateTime:   now,
		ExpireTime:   now.Add(time.Hour),
		Index:        "1",
		NameID:       a.NameID,
		NameIDFormat: string(saml.EmailAddressNameIDFormat),
	}
	for name, value := range a.Attributes {
		session.CustomAttributes = append(session.CustomAttributes, saml.Attribute{
			Name:       name,
			NameFormat: "urn:oasis:names:tc:SAML:2.0:attrname-format:basic",
			Values:     []saml.AttributeValue{{Type: "xs:string", Value: value}},
		})
	}

	if err := (saml.DefaultAssertionMaker{}).MakeAssertion(req, session); err != nil {
		t.Fatalf("Failed to make assertion: %v", err)
	}
	form, err := req.PostBinding()
	if err != nil {
		t.Fatalf("Failed to sign SAML response: %v", err)
	}
	return form.SAMLResponse
}

// CallbackRequest builds the browser's form post of samlResponse to acsURL.
func CallbackRequest(acsURL, samlResponse string) *http.Request {
	body := url.Values{"SAMLResponse": {samlResponse}}.Encode()
	req, _ := http.NewRequest(http.MethodPost, acsURL, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
