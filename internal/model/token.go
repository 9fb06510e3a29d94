package model

import "time"

// expiryBuffer makes a token count as expired slightly before the provider
// would actually reject it, so refreshes happen ahead of in-flight calls.
const expiryBuffer = 5 * time.Minute

// Token is the OAuth credential for one ProviderConfig. A config holds at most
// one live token: inserting a new one deletes all prior rows for the config.
type Token struct {
	ID           string
	ConfigID     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsExpired reports whether the access token is expired or expires within the
// safety buffer. Tokens without a recorded expiry never count as expired.
func (t Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !t.ExpiresAt.Add(-expiryBuffer).After(now)
}
