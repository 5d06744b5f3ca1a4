package model

import "time"

// Provider names an upstream language-model vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGoogle}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// CredentialStatus is the lifecycle state of a stored credential.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is an encrypted provider API key owned by a single subject.
// The plaintext is never stored; Ciphertext holds the sealed secret and
// Last4 the only cleartext fragment shown to users.
type Credential struct {
	ID         string           `json:"id" db:"id"`
	OwnerID    string           `json:"owner_id" db:"owner_id"`
	Provider   Provider         `json:"provider" db:"provider"`
	Nickname   string           `json:"nickname" db:"nickname"`
	Last4      string           `json:"last4" db:"last4"`
	Ciphertext []byte           `json:"-" db:"ciphertext"`
	Status     CredentialStatus `json:"status" db:"status"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
	RevokedAt  *time.Time       `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsActive reports whether the credential can be used for a provider call.
func (c *Credential) IsActive() bool {
	return c.Status == CredentialActive
}
