package models

import "slices"

// APIKeyRecord is a tenant-owned partner key row (auth.partner_keys)
type APIKeyRecord struct {
	Name     string   `json:"name" db:"name"`
	Partner  string   `json:"partner" db:"partner"`
	Enabled  bool     `json:"enabled" db:"enabled"`
	Revoked  bool     `json:"revoked" db:"revoked"`
	Programs []string `json:"programs" db:"programs"`
	Grants   []string `json:"grants" db:"grants"`
}

// UsableFor reports whether the key may authenticate requests for tenant:
// enabled, not revoked and tenant listed among the allowed programs.
func (k *APIKeyRecord) UsableFor(tenant string) bool {
	return k.Enabled && !k.Revoked && slices.Contains(k.Programs, tenant)
}

// CompositeCredential is the parsed value of a tenant token Authorization header
type CompositeCredential struct {
	Scheme string
	Tenant string
	Token  string
}

// HasTenant reports whether the credential named its tenant explicitly
func (c CompositeCredential) HasTenant() bool {
	return c.Tenant != ""
}
