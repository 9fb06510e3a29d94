package provider

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"apptsync/internal/availability"
	"apptsync/internal/model"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleCalendarScope = "https://www.googleapis.com/auth/calendar"
	googleAPIBase       = "https://www.googleapis.com/calendar/v3"
	googleRevokeURL     = "https://oauth2.googleapis.com/revoke"
)

// Google mirrors appointments into Google Calendar over its REST API.
// OAuth token plumbing goes through golang.org/x/oauth2; calendar calls are
// plain JSON requests authorized with the caller-supplied access token.
type Google struct {
	http    *http.Client
	apiBase string
	// revokeURL is overridable for tests alongside apiBase.
	revokeURL string
}

func NewGoogle() *Google {
	return &Google{
		http:      &http.Client{Timeout: 15 * time.Second},
		apiBase:   googleAPIBase,
		revokeURL: googleRevokeURL,
	}
}

func (g *Google) Kind() model.ProviderKind { return model.ProviderGoogle }

func (g *Google) oauthConfig(cfg model.ProviderConfig, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{googleCalendarScope},
		Endpoint:     google.Endpoint,
	}
}

func (g *Google) AuthorizationURL(cfg model.ProviderConfig, redirectURI, state string) (string, error) {
	if !cfg.HasCredentials() {
		return "", errors.New("google config has no client credentials")
	}
	conf := g.oauthConfig(cfg, redirectURI)
	// Offline access plus forced consent so Google returns a refresh token
	// even when the user granted the app before.
	return conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

func (g *Google) ExchangeCode(ctx context.Context, cfg model.ProviderConfig, redirectURI, code string) (TokenData, error) {
	conf := g.oauthConfig(cfg, redirectURI)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return TokenData{}, fmt.Errorf("google code exchange: %w", err)
	}
	return tokenData(tok), nil
}

func (g *Google) RefreshAccessToken(ctx context.Context, cfg model.ProviderConfig, refreshToken string) (TokenData, error) {
	conf := g.oauthConfig(cfg, "")
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenData{}, fmt.Errorf("google token refresh: %w", err)
	}
	td := tokenData(tok)
	if td.RefreshToken == "" {
		// Google often omits the refresh token on refresh responses.
		td.RefreshToken = refreshToken
	}
	return td, nil
}

func tokenData(tok *oauth2.Token) TokenData {
	return TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

func (g *Google) RevokeToken(ctx context.Context, _ model.ProviderConfig, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Google returns 400 for already-revoked tokens; nothing left to do then.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return apiError("revoke token", resp)
	}
	return nil
}

func (g *Google) TestConnection(ctx context.Context, _ model.ProviderConfig, accessToken string) (ConnectionResult, error) {
	var body struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
			Primary bool   `json:"primary"`
		} `json:"items"`
	}
	if err := g.get(ctx, accessToken, "/users/me/calendarList", nil, &body); err != nil {
		return ConnectionResult{OK: false, Detail: err.Error()}, err
	}
	res := ConnectionResult{OK: true, Detail: fmt.Sprintf("%d calendars visible", len(body.Items))}
	for _, it := range body.Items {
		res.Calendars = append(res.Calendars, Calendar{ID: it.ID, Summary: it.Summary, Primary: it.Primary})
	}
	return res, nil
}

func (g *Google) FreeBusy(ctx context.Context, cfg model.ProviderConfig, accessToken string, from, to time.Time) ([]availability.Interval, error) {
	calendarID := cfg.CalendarID()
	reqBody := map[string]any{
		"timeMin": from.Format(time.RFC3339),
		"timeMax": to.Format(time.RFC3339),
		"items":   []map[string]string{{"id": calendarID}},
	}
	var body struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := g.post(ctx, accessToken, "/freeBusy", reqBody, &body); err != nil {
		return nil, err
	}
	var out []availability.Interval
	for _, b := range body.Calendars[calendarID].Busy {
		out = append(out, availability.Interval{Start: b.Start, End: b.End})
	}
	return out, nil
}

type googleEvent struct {
	ID          string           `json:"id,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Status      string           `json:"status,omitempty"`
	Start       *googleEventTime `json:"start,omitempty"`
	End         *googleEventTime `json:"end,omitempty"`
	Attendees   []googleAttendee `json:"attendees,omitempty"`
	Reminders   *googleReminders `json:"reminders,omitempty"`
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleAttendee struct {
	Email string `json:"email"`
}

type googleReminders struct {
	UseDefault bool                   `json:"useDefault"`
	Overrides  []googleReminderMethod `json:"overrides,omitempty"`
}

type googleReminderMethod struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

func eventBody(data model.EventData) googleEvent {
	ev := googleEvent{
		Summary:     data.Summary,
		Description: data.Description,
		Location:    data.Location,
		Start:       &googleEventTime{DateTime: data.Start.Format(time.RFC3339)},
		End:         &googleEventTime{DateTime: data.End.Format(time.RFC3339)},
		Reminders: &googleReminders{
			UseDefault: false,
			Overrides: []googleReminderMethod{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 60},
			},
		},
	}
	for _, a := range data.Attendees {
		ev.Attendees = append(ev.Attendees, googleAttendee{Email: a})
	}
	return ev
}

func (g *Google) CreateEvent(ctx context.Context, cfg model.ProviderConfig, accessToken string, data model.EventData) (string, error) {
	var created googleEvent
	path := "/calendars/" + url.PathEscape(cfg.CalendarID()) + "/events"
	if err := g.post(ctx, accessToken, path, eventBody(data), &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("google returned event without id")
	}
	return created.ID, nil
}

func (g *Google) UpdateEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string, data model.EventData) error {
	path := "/calendars/" + url.PathEscape(cfg.CalendarID()) + "/events/" + url.PathEscape(eventID)
	return g.do(ctx, accessToken, http.MethodPatch, path, eventBody(data), nil)
}

func (g *Google) CancelEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string) error {
	path := "/calendars/" + url.PathEscape(cfg.CalendarID()) + "/events/" + url.PathEscape(eventID)
	err := g.do(ctx, accessToken, http.MethodDelete, path, nil, nil)
	if isGone(err) {
		return nil
	}
	return err
}

func (g *Google) GetEvent(ctx context.Context, cfg model.ProviderConfig, accessToken, eventID string) (Event, error) {
	var ev googleEvent
	path := "/calendars/" + url.PathEscape(cfg.CalendarID()) + "/events/" + url.PathEscape(eventID)
	if err := g.get(ctx, accessToken, path, nil, &ev); err != nil {
		if isGone(err) {
			return Event{ID: eventID, Status: "cancelled", Cancelled: true}, nil
		}
		return Event{}, err
	}
	out := Event{
		ID:        ev.ID,
		Summary:   ev.Summary,
		Status:    ev.Status,
		Cancelled: ev.Status == "cancelled",
	}
	if ev.Start != nil {
		out.Start, _ = time.Parse(time.RFC3339, ev.Start.DateTime)
	}
	if ev.End != nil {
		out.End, _ = time.Parse(time.RFC3339, ev.End.DateTime)
	}
	return out, nil
}

func (g *Google) SetupWebhook(ctx context.Context, cfg model.ProviderConfig, accessToken, callbackURL string) (WebhookChannel, error) {
	reqBody := map[string]any{
		"id":      uuid.NewString(),
		"type":    "web_hook",
		"address": callbackURL,
		"token":   cfg.WebhookSecret,
	}
	var body struct {
		ID         string `json:"id"`
		ResourceID string `json:"resourceId"`
		Expiration string `json:"expiration"`
	}
	path := "/calendars/" + url.PathEscape(cfg.CalendarID()) + "/events/watch"
	if err := g.post(ctx, accessToken, path, reqBody, &body); err != nil {
		return WebhookChannel{}, err
	}
	ch := WebhookChannel{ChannelID: body.ID, ResourceID: body.ResourceID}
	if ms, err := strconv.ParseInt(body.Expiration, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		ch.Expiration = &t
	}
	return ch, nil
}

func (g *Google) StopWebhook(ctx context.Context, cfg model.ProviderConfig, accessToken string) error {
	if cfg.WebhookChannelID == "" || cfg.WebhookResourceID == "" {
		return nil
	}
	reqBody := map[string]string{
		"id":         cfg.WebhookChannelID,
		"resourceId": cfg.WebhookResourceID,
	}
	err := g.do(ctx, accessToken, http.MethodPost, "/channels/stop", reqBody, nil)
	if isGone(err) {
		return nil
	}
	return err
}

// ValidateWebhookToken checks the token the provider echoes back against the
// config's stored secret. The channel token is the whole contract here; the
// provider does not sign notification bodies.
func (g *Google) ValidateWebhookToken(cfg model.ProviderConfig, n Notification) bool {
	if cfg.WebhookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.WebhookSecret), []byte(n.Token)) == 1
}

// ParseNotification extracts the push headers Google sets on callbacks.
func ParseNotification(h http.Header) Notification {
	return Notification{
		ChannelID:  h.Get("X-Goog-Channel-ID"),
		ResourceID: h.Get("X-Goog-Resource-ID"),
		Token:      h.Get("X-Goog-Channel-Token"),
		State:      h.Get("X-Goog-Resource-State"),
	}
}

func (g *Google) get(ctx context.Context, accessToken, path string, query url.Values, out any) error {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return g.do(ctx, accessToken, http.MethodGet, p, nil, out)
}

func (g *Google) post(ctx context.Context, accessToken, path string, in, out any) error {
	return g.do(ctx, accessToken, http.MethodPost, path, in, out)
}

func (g *Google) do(ctx context.Context, accessToken, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(method+" "+path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is a non-2xx response from the provider API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("google api %s: status %d: %s", e.Op, e.Status, e.Body)
}

func apiError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Op: op, Status: resp.StatusCode, Body: string(raw)}
}

// IsAuthError reports whether the provider rejected the access token.
func IsAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

func isGone(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusGone)
}
