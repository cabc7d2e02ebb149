package sso

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/crewjam/saml"
)

// IdentityProvider is the stored configuration of one IdP.
type IdentityProvider struct {
	Issuer     string
	EntryPoint string
	Cert       string
}

// Profile is the identity asserted by the IdP.
type Profile struct {
	NameID     string
	Email      string
	Attributes map[string][]string
}

var ErrNoEmail = errors.New("no email found in SAML response")

// Client builds SAML service providers for whichever IdP is active.
type Client struct {
	entityID string
	acsURL   url.URL
	rewrite  *strings.Replacer
}

// NewClient returns a Client for SP entityID whose assertion consumer service
// is callbackURL. rewrites is a comma-separated list of old=new host
// substitutions applied to IdP entry points, for IdPs whose metadata names a
// host only reachable inside a container network.
func NewClient(entityID, callbackURL, rewrites string) (*Client, error) {
	acs, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SAML callback URL: %w", err)
	}

	var pairs []string
	for _, pair := range strings.Split(rewrites, ",") {
		from, to, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || from == "" {
			continue
		}
		pairs = append(pairs, from, to)
	}

	return &Client{
		entityID: entityID,
		acsURL:   *acs,
		rewrite:  strings.NewReplacer(pairs...),
	}, nil
}

func (c *Client) serviceProvider(idp IdentityProvider) *saml.ServiceProvider {
	entryPoint := c.rewrite.Replace(idp.EntryPoint)

	metadata := &saml.EntityDescriptor{
		EntityID: idp.Issuer,
		IDPSSODescriptors: []saml.IDPSSODescriptor{{
			SSODescriptor: saml.SSODescriptor{
				RoleDescriptor: saml.RoleDescriptor{
					ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
					KeyDescriptors: []saml.KeyDescriptor{{
						Use: "signing",
						KeyInfo: saml.KeyInfo{
							X509Data: saml.X509Data{
								X509Certificates: []saml.X509Certificate{{Data: NormalizeCertificate(idp.Cert)}},
							},
						},
					}},
				},
			},
			SingleSignOnServices: []saml.Endpoint{{
				Binding:  saml.HTTPRedirectBinding,
				Location: entryPoint,
			}},
		}},
	}

	return &saml.ServiceProvider{
		EntityID:          c.entityID,
		AcsURL:            c.acsURL,
		IDPMetadata:       metadata,
		AuthnNameIDFormat: saml.EmailAddressNameIDFormat,
		// Request IDs are not tracked between login and callback.
		AllowIDPInitiated: true,
	}
}

// AuthorizeURL returns the IdP URL carrying an HTTP-Redirect AuthnRequest.
func (c *Client) AuthorizeURL(idp IdentityProvider, relayState string) (string, error) {
	if idp.EntryPoint == "" {
		return "", errors.New("identity provider has no entry point")
	}
	redirect, err := c.serviceProvider(idp).MakeRedirectAuthenticationRequest(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build SAML authentication request: %w", err)
	}
	return redirect.String(), nil
}

// ValidatePostResponse verifies the SAMLResponse posted by the browser
// (signature, issuer, audience, destination, validity window) and returns
// the asserted identity. The email is the NameID, or the "email" attribute
// when the NameID is empty.
func (c *Client) ValidatePostResponse(idp IdentityProvider, r *http.Request) (*Profile, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid SAML response form: %w", err)
	}
	if r.PostForm.Get("SAMLResponse") == "" {
		return nil, errors.New("missing SAMLResponse")
	}

	assertion, err := c.serviceProvider(idp).ParseResponse(r, nil)
	if err != nil {
		var invalid *saml.InvalidResponseError
		if errors.As(err, &invalid) && invalid.PrivateErr != nil {
			return nil, fmt.Errorf("invalid SAML response: %w", invalid.PrivateErr)
		}
		return nil, fmt.Errorf("invalid SAML response: %w", err)
	}

	profile := &Profile{Attributes: map[string][]string{}}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		profile.NameID = assertion.Subject.NameID.Value
	}
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			for _, v := range attr.Values {
				profile.Attributes[attr.Name] = append(profile.Attributes[attr.Name], v.Value)
			}
		}
	}

	profile.Email = profile.NameID
	if profile.Email == "" {
		if emails := profile.Attributes["email"]; len(emails) > 0 {
			profile.Email = emails[0]
		}
	}
	if profile.Email == "" {
		return nil, ErrNoEmail
	}
	return profile, nil
}
