package domain

import "time"

// Credential is the OAuth state held for one user and provider.
type Credential struct {
	UserID            string
	Provider          Provider
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	ExternalAccountID string
	LastSyncAt        *time.Time
	// Watermark is the last calendar date whose merge committed.
	Watermark *time.Time
	UpdatedAt time.Time
}

// Connected reports whether the credential carries a usable access token.
func (c Credential) Connected() bool {
	return c.AccessToken != ""
}

// CanRefresh reports whether the credential can be renewed without the user.
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Expired reports whether expires_at falls at or before now plus margin.
// Credentials without expiry never expire.
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}

// ConnectionStatus is the read model returned to the web layer.
type ConnectionStatus struct {
	Provider   Provider
	Connected  bool
	LastSyncAt *time.Time
	Watermark  *time.Time
}
