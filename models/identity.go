package models

import (
	"maps"
	"slices"
)

// Identity is the authenticated principal attached to a request
type Identity struct {
	UserID      string         `json:"user_id"`
	SessionKey  string         `json:"session_key,omitempty"`
	Username    string         `json:"username,omitempty"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Tenant      string         `json:"tenant,omitempty"`
	Partner     string         `json:"partner,omitempty"`
	Groups      []string       `json:"groups,omitempty"`
	Programs    []string       `json:"programs,omitempty"`
	Grants      []string       `json:"grants,omitempty"`
	Issuer      string         `json:"issuer"`
	Backend     string         `json:"backend"`
	Attributes  map[string]any `json:"attributes,omitempty"`

	// AccessToken is the opaque credential for upstream calls. Never serialized.
	AccessToken string `json:"-"`
}

// HasGroup reports whether the identity belongs to the group
func (i *Identity) HasGroup(group string) bool {
	return slices.Contains(i.Groups, group)
}

// HasGrant reports whether the identity carries the grant
func (i *Identity) HasGrant(grant string) bool {
	return slices.Contains(i.Grants, grant)
}

// Clone returns a copy that shares no slices or maps with i
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Groups = slices.Clone(i.Groups)
	c.Programs = slices.Clone(i.Programs)
	c.Grants = slices.Clone(i.Grants)
	c.Attributes = maps.Clone(i.Attributes)
	return &c
}

// SessionRecord is what a session store persists for an established session
type SessionRecord struct {
	ID          string    `json:"id"`
	Identity    *Identity `json:"identity"`
	AccessToken string    `json:"access_token,omitempty"`
}

// Clone returns a deep copy of r
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Identity = r.Identity.Clone()
	return &c
}
