// Package provider contains the calendar provider adapters. An Adapter talks
// to one external calendar API; callers pass the access token on every call so
// adapters stay stateless and credential storage remains the token store's job.
package provider

import (
	"context"
	"time"

	"apptsync/internal/apperr"
	"apptsync/internal/availability"
	"apptsync/internal/model"
)

// TokenData is what a provider's token endpoint returns.
type TokenData struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// ConnectionResult reports the outcome of a connection test.
type ConnectionResult struct {
	OK        bool
	Detail    string
	Calendars []Calendar
}

type Calendar struct {
	ID      string
	Summary string
	Primary bool
}

// Event is a remote calendar event as reported by the provider.
type Event struct {
	ID        string
	Summary   string
	Start     time.Time
	End       time.Time
	Status    string
	Cancelled bool
}

// WebhookChannel describes a registered push notification channel.
type WebhookChannel struct {
	ChannelID  string
	ResourceID string
	Expiration *time.Time
}

// Notification is a parsed incoming webhook callback.
type Notification struct {
	ChannelID  string
	ResourceID string
	Token      string
	State      string
}

// Adapter is the operation set every calendar provider must support.
type Adapter interface {
	Kind() model.ProviderKind

	// AuthorizationURL builds the provider consent URL. state is the
	// anti-forgery value the callback must echo back.
	AuthorizationURL(cfg model.ProviderConfig, redirectURI, state string) (string, error)
	ExchangeCode(ctx context.Context, cfg model.ProviderConfig, redirectURI, code string) (TokenData, error)
	RefreshAccessToken(ctx context.Context, cfg model.ProviderConfig, refreshToken string) (TokenData, error)
	RevokeToken(ctx context.Context, cfg model.ProviderConfig, token string) error

	TestConnection(ctx context.Context, cfg model.ProviderConfig, accessToken string) (ConnectionResult, error)

	FreeBusy(ctx context.Context, cfg model.ProviderConfig, accessToken string, from, to time.Time) ([]availability.Interval, error)
	CreateEvent(ctx context.Context, cfg model.ProviderConfig, accessToken string, data model.EventData) (string, error)
	UpdateEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string, data model.EventData) error
	CancelEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string) error
	GetEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string) (Event, error)
}

// WebhookCapable is implemented by adapters whose provider supports push
// notifications. Callers type-assert and degrade to polling when absent.
type WebhookCapable interface {
	SetupWebhook(ctx context.Context, cfg model.ProviderConfig, accessToken, callbackURL string) (WebhookChannel, error)
	StopWebhook(ctx context.Context, cfg model.ProviderConfig, accessToken string) error
	ValidateWebhookToken(cfg model.ProviderConfig, n Notification) bool
}

// Registry resolves provider kinds to adapter implementations.
type Registry struct {
	adapters map[model.ProviderKind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) Get(kind model.ProviderKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, apperr.New(apperr.CodeUnsupportedProvider, "no adapter for provider %q", kind)
	}
	return a, nil
}
