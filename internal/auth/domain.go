package auth

import "time"

// Session is the audit record of one issued token. It is never consulted
// when authorizing requests.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// ClientMeta describes the client that asked for a token.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// UserView is the public projection of an account.
type UserView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Result is returned by login and registration.
type Result struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}
