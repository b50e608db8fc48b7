// Package claims projects identity provider claim sets onto the internal
// identity model using a declarative name mapping.
package claims

import (
	"fmt"
	"maps"
	"strings"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/models"
)

// Logical claim names understood by ToIdentity
const (
	FieldUserID     = "user_id"
	FieldEmail      = "email"
	FieldGivenName  = "given_name"
	FieldFamilyName = "family_name"
	FieldGroups     = "groups"
	FieldDepartment = "department"
	FieldName       = "name"
)

// Mapping translates logical claim names to provider claim names
type Mapping map[string]string

// DefaultADFSMapping returns the claim names published by on-prem ADFS
func DefaultADFSMapping() Mapping {
	return Mapping{
		FieldUserID:     "upn",
		FieldEmail:      "email",
		FieldGivenName:  "given_name",
		FieldFamilyName: "family_name",
		FieldGroups:     "group",
		FieldDepartment: "Department",
		FieldName:       "Display-Name",
	}
}

// With returns a copy of m with overrides applied
func (m Mapping) With(overrides map[string]string) Mapping {
	out := maps.Clone(m)
	if out == nil {
		out = Mapping{}
	}
	for logical, claim := range overrides {
		if claim == "" {
			delete(out, logical)
			continue
		}
		out[logical] = claim
	}
	return out
}

// VerifiedClaims holds claims keyed by logical name after verification and
// translation.
type VerifiedClaims map[string]any

// String returns a string valued claim, or "" when absent
func (c VerifiedClaims) String(field string) string {
	switch v := c[field].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns a list valued claim. A single string is treated as a list
// of one; ADFS emits one-element group claims that way.
func (c VerifiedClaims) Strings(field string) []string {
	switch v := c[field].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map copies each mapped provider claim that is present. The user id is
// mandatory; every other field is optional.
func Map(raw map[string]any, mapping Mapping) (VerifiedClaims, error) {
	out := make(VerifiedClaims, len(mapping))
	for logical, claim := range mapping {
		v, ok := raw[claim]
		if !ok || v == nil {
			continue
		}
		out[logical] = v
	}

	if strings.TrimSpace(out.String(FieldUserID)) == "" {
		return nil, authn.New(authn.KindIdentityIncomplete, "identity is missing required claims",
			fmt.Errorf("claim %q (%s) not present", mapping[FieldUserID], FieldUserID))
	}
	return out, nil
}

// Merge combines verified token claims with userinfo claims. Token claims take
// precedence; userinfo only fills in what the token lacks.
func Merge(tokenClaims, userinfo map[string]any) map[string]any {
	out := make(map[string]any, len(tokenClaims)+len(userinfo))
	maps.Copy(out, userinfo)
	maps.Copy(out, tokenClaims)
	return out
}

// IdentityOptions carries identity fields that do not come from claims
type IdentityOptions struct {
	Issuer        string
	Backend       string
	Tenant        string
	DefaultGroups []string
	AccessToken   string
}

// ToIdentity builds the internal identity from mapped claims
func ToIdentity(c VerifiedClaims, opts IdentityOptions) *models.Identity {
	userID := c.String(FieldUserID)
	groups := c.Strings(FieldGroups)
	if len(groups) == 0 && len(opts.DefaultGroups) > 0 {
		groups = append([]string(nil), opts.DefaultGroups...)
	}

	id := &models.Identity{
		UserID:      userID,
		Username:    userID,
		Email:       c.String(FieldEmail),
		DisplayName: c.String(FieldName),
		Tenant:      opts.Tenant,
		Groups:      groups,
		Issuer:      opts.Issuer,
		Backend:     opts.Backend,
		AccessToken: opts.AccessToken,
	}
	if id.Email == "" && strings.Contains(userID, "@") {
		id.Email = userID
	}
	if id.DisplayName == "" {
		id.DisplayName = strings.TrimSpace(c.String(FieldGivenName) + " " + c.String(FieldFamilyName))
	}

	for field, v := range c {
		switch field {
		case FieldUserID, FieldEmail, FieldName, FieldGroups:
			continue
		}
		if id.Attributes == nil {
			id.Attributes = make(map[string]any)
		}
		id.Attributes[field] = v
	}
	return id
}
