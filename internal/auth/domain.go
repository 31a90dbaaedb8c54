package auth

import "time"

// Credential is the subset of a profile needed to authenticate.
type Credential struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
}

// Session mirrors one auth_sessions row, kept for auditing and cleanup.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
