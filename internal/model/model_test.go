package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestProviderValid(t *testing.T) {
	tests := []struct {
		p    Provider
		want bool
	}{
		{ProviderOpenAI, true},
		{ProviderAnthropic, true},
		{ProviderGoogle, true},
		{"OpenAI", false},
		{"", false},
		{"mistral", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialCiphertextNotInJSON(t *testing.T) {
	c := Credential{
		ID:         "cred_1",
		OwnerID:    "user_1",
		Provider:   ProviderOpenAI,
		Last4:      "abcd",
		Ciphertext: []byte("sealed-bytes"),
		Status:     CredentialActive,
	}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "ciphertext") || strings.Contains(string(b), "c2VhbGVk") {
		t.Errorf("ciphertext leaked into JSON: %s", b)
	}
	if !strings.Contains(string(b), `"last4":"abcd"`) {
		t.Errorf("expected last4 in JSON: %s", b)
	}
}

func TestShareGrantExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{"no expiry", nil, false},
		{"future", &future, false},
		{"past", &past, true},
		{"exactly now", &now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ShareGrant{ExpiresAt: tt.expires}
			if got := g.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewListResponseNeverNull(t *testing.T) {
	b, err := json.Marshal(NewListResponse[Credential](nil))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != `{"resource":[],"meta":{"count":0}}` {
		t.Errorf("got %s", b)
	}
}

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()
	if th.RequestsPerHour != 100 || th.ExportsPerHour != 10 || th.CostPerDay != 50 ||
		th.FailedAuthPerHour != 5 || th.ConcurrentSessions != 3 {
		t.Errorf("unexpected defaults: %+v", th)
	}
}
