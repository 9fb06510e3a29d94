package model

import (
	"fmt"
	"time"
)

// ProviderKind identifies an external calendar provider. The set is closed:
// adding a provider means adding an adapter implementation and a new constant.
type ProviderKind string

const (
	ProviderGoogle ProviderKind = "google"
	// ProviderCalendly is reserved; no adapter ships for it yet.
	ProviderCalendly ProviderKind = "calendly"
)

func ParseProviderKind(raw string) (ProviderKind, error) {
	switch ProviderKind(raw) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderCalendly:
		return ProviderCalendly, nil
	}
	return "", fmt.Errorf("unknown provider kind %q", raw)
}

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
	SyncPending SyncStatus = "pending"
)

// ProviderConfig is one connection to an external calendar provider.
// At most one config per provider kind may have IsActive set (enforced
// transactionally in storage.Configs.Activate).
type ProviderConfig struct {
	ID           string
	Name         string
	Provider     ProviderKind
	ClientID     string
	ClientSecret string
	APIKey       string
	Active       bool
	IsActive     bool

	WebhookSecret     string
	WebhookChannelID  string
	WebhookResourceID string
	WebhookExpiration *time.Time

	DefaultCalendarID string

	LastSyncAt  *time.Time
	SyncStatus  SyncStatus
	SyncMessage string

	CreatedAt time.Time
}

// WebhookURL is the address the provider pushes notifications to. The config id
// is part of the path so callbacks route to the right configuration.
func (c ProviderConfig) WebhookURL(baseURL string) string {
	return fmt.Sprintf("%s/webhook/calendar/%s/%s", baseURL, c.Provider, c.ID)
}

// CalendarID returns the calendar the config operates on, defaulting to the
// provider's primary calendar.
func (c ProviderConfig) CalendarID() string {
	if c.DefaultCalendarID != "" {
		return c.DefaultCalendarID
	}
	return "primary"
}

func (c ProviderConfig) HasCredentials() bool {
	return (c.ClientID != "" && c.ClientSecret != "") || c.APIKey != ""
}
