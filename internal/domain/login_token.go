package domain

import "time"

// LoginToken vincula un codigo de un solo uso con un usuario.
type LoginToken struct {
	Code      string    `json:"code"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired indica si el codigo ya no es valido en now.
func (t LoginToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
