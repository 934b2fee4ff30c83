package main

// StoredSession persists the token set across demo restarts so a running
// session survives a server bounce. At most one row exists.
type StoredSession struct {
	ID           uint
	Email        string `gorm:"index"`
	AuthToken    string
	RefreshToken string
	CsrfToken    string
}
