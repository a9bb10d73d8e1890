package models

import "time"

// Identity is what the identity provider resolves for the current caller.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated identity plus its bearer token.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Identity  `json:"user"`
}

// Expired reports whether the session token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
